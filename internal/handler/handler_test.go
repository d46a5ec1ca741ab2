package handler

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/verdantpay/checkout-engine/internal/checkout"
	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/gateway"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/resume"
	"github.com/verdantpay/checkout-engine/internal/scope"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
	"github.com/verdantpay/checkout-engine/internal/tokenize"
)

type testResolver struct {
	comps scope.Components
}

func (r testResolver) Resolve(model.PaymentMethodType) (scope.Components, error) {
	return r.comps, nil
}

type apiFixture struct {
	api *httptest.Server
	gw  *gateway.Gateway
}

// newAPIFixture stands up the sandbox gateway and the HTTP API in front of a
// real engine, with fast polling for test speed.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	gw := gateway.NewSandbox()
	gwSrv := httptest.NewServer(gw.Router())
	t.Cleanup(gwSrv.Close)
	gw.SetBaseURL(gwSrv.URL)

	tracker := telemetry.NewEndpointTracker()
	d := dispatch.New(gwSrv.Client(), telemetry.Fanout{tracker})
	engine := checkout.NewEngine(testResolver{comps: scope.Components{
		Sessions:   clientsession.NewModule(d),
		Tokenizer:  tokenize.NewService(d),
		Completer:  resume.NewController(d, telemetry.Noop{}),
		PollPolicy: resume.Policy{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second},
		Intent:     model.IntentCheckout,
	}}, nil)

	h := New(engine, gw, func() (string, error) {
		return gw.MintClientToken(time.Hour)
	}, tracker)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	api := httptest.NewServer(router)
	t.Cleanup(api.Close)

	return &apiFixture{api: api, gw: gw}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, fx.api.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

// waitForFlowState polls GET /checkouts/{id} until the flow reaches the
// wanted state.
func (fx *apiFixture) waitForFlowState(t *testing.T, id, want string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		_, body = fx.do(t, http.MethodGet, "/checkouts/"+id, "")
		if gjson.Get(body, "state").String() == want {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("flow %s never reached state %q; last body: %s", id, want, body)
	return ""
}

func (fx *apiFixture) createCheckout(t *testing.T, methodType string) string {
	t.Helper()
	status, body := fx.do(t, http.MethodPost, "/checkouts",
		`{"payment_method_type":"`+methodType+`"}`)
	require.Equal(t, http.StatusCreated, status, body)
	id := gjson.Get(body, "id").String()
	require.NotEmpty(t, id)
	return id
}

func TestCreateCheckout_StartsFlow(t *testing.T) {
	fx := newAPIFixture(t)

	id := fx.createCheckout(t, "ADYEN_IDEAL")
	body := fx.waitForFlowState(t, id, "data_collection")

	steps := gjson.Get(body, "steps.#.kind")
	require.Len(t, steps.Array(), 2)
	assert.Equal(t, "loading", steps.Array()[0].String())
	assert.Equal(t, "banks_retrieved", steps.Array()[1].String())
	assert.Equal(t, int64(3), gjson.Get(body, "steps.1.banks.#").Int())
}

func TestCreateCheckout_RequiresMethodType(t *testing.T) {
	fx := newAPIFixture(t)

	status, body := fx.do(t, http.MethodPost, "/checkouts", `{}`)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, gjson.Get(body, "error").String(), "payment_method_type")
}

func TestCreateCheckout_RejectsUnknownMethodType(t *testing.T) {
	fx := newAPIFixture(t)

	status, _ := fx.do(t, http.MethodPost, "/checkouts",
		`{"payment_method_type":"SOME_WALLET"}`)

	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetCheckout_NotFound(t *testing.T) {
	fx := newAPIFixture(t)

	status, _ := fx.do(t, http.MethodGet, "/checkouts/nope", "")

	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateField_UnknownFieldRejected(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	status, body := fx.do(t, http.MethodPost, "/checkouts/"+id+"/fields",
		`{"field":"favorite_color","value":"blue"}`)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, gjson.Get(body, "error").String(), "favorite_color")
}

func TestUpdateField_SurfacesValidationStatuses(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	status, _ := fx.do(t, http.MethodPost, "/checkouts/"+id+"/fields",
		`{"field":"card_number","value":"1111"}`)
	require.Equal(t, http.StatusAccepted, status)

	_, body := fx.do(t, http.MethodGet, "/checkouts/"+id, "")
	states := gjson.Get(body, "statuses.#.state").Array()
	require.Len(t, states, 2)
	assert.Equal(t, "validating", states[0].String())
	assert.Equal(t, "invalid", states[1].String())
}

func TestSubmit_WithoutValidatedFields(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	status, _ := fx.do(t, http.MethodPost, "/checkouts/"+id+"/submit", "")

	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestFullCardCheckoutOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	fields := [][2]string{
		{"card_number", "4242424242424242"},
		{"cvv", "123"},
		{"expiry_month", "12"},
		{"expiry_year", "2030"},
		{"cardholder_name", "J Doe"},
	}
	for _, f := range fields {
		status, body := fx.do(t, http.MethodPost, "/checkouts/"+id+"/fields",
			`{"field":"`+f[0]+`","value":"`+f[1]+`"}`)
		require.Equal(t, http.StatusAccepted, status, body)
	}

	status, _ := fx.do(t, http.MethodPost, "/checkouts/"+id+"/submit", "")
	require.Equal(t, http.StatusAccepted, status)

	body := fx.waitForFlowState(t, id, "success")
	kinds := gjson.Get(body, "steps.#.kind").Array()
	assert.Equal(t, "success", kinds[len(kinds)-1].String())
	assert.NotEmpty(t, gjson.Get(body, "steps.@reverse.0.token.token").String())
}

func TestCancelCheckout(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	status, body := fx.do(t, http.MethodPost, "/checkouts/"+id+"/cancel", "")

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", gjson.Get(body, "state").String())
}

func TestResetCheckout_OnlyAfterTerminal(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")
	fx.waitForFlowState(t, id, "data_collection")

	status, _ := fx.do(t, http.MethodPost, "/checkouts/"+id+"/reset", "")
	assert.Equal(t, http.StatusConflict, status)

	fx.do(t, http.MethodPost, "/checkouts/"+id+"/cancel", "")
	status, body := fx.do(t, http.MethodPost, "/checkouts/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", gjson.Get(body, "state").String())
}

func TestDeleteCheckout(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "PAYMENT_CARD")

	status, _ := fx.do(t, http.MethodDelete, "/checkouts/"+id, "")
	require.Equal(t, http.StatusNoContent, status)

	status, _ = fx.do(t, http.MethodGet, "/checkouts/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSimulateDegrade(t *testing.T) {
	fx := newAPIFixture(t)

	status, body := fx.do(t, http.MethodPost, "/simulate/degrade", `{"degraded":true}`)

	require.Equal(t, http.StatusOK, status)
	assert.True(t, gjson.Get(body, "degraded").Bool())
	assert.True(t, fx.gw.IsDegraded())
}

func TestSimulateBatch(t *testing.T) {
	fx := newAPIFixture(t)

	status, body := fx.do(t, http.MethodPost, "/simulate/batch", `{"count":5}`)

	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, int64(5), gjson.Get(body, "total").Int())
	assert.Equal(t, int64(5), gjson.Get(body, "succeeded").Int())
	assert.InDelta(t, 1.0, gjson.Get(body, "success_rate").Float(), 0.001)
}

func TestEndpointHealthTracksGatewayTraffic(t *testing.T) {
	fx := newAPIFixture(t)
	id := fx.createCheckout(t, "ADYEN_IDEAL")
	fx.waitForFlowState(t, id, "data_collection")

	status, body := fx.do(t, http.MethodGet, "/health/endpoints", "")

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, int64(1), gjson.Get(body, "endpoints.#").Int())
	assert.Equal(t, "healthy", gjson.Get(body, "endpoints.0.status").String())
	assert.InDelta(t, 1.0, gjson.Get(body, "endpoints.0.health_score").Float(), 0.001)
}

func TestSimulateBatch_CountBounds(t *testing.T) {
	fx := newAPIFixture(t)

	status, _ := fx.do(t, http.MethodPost, "/simulate/batch", `{"count":0}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = fx.do(t, http.MethodPost, "/simulate/batch", `{"count":2000}`)
	assert.Equal(t, http.StatusBadRequest, status)
}
