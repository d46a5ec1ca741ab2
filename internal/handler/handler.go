// Package handler exposes the checkout engine over HTTP for the demo server
// and integration harnesses. Each flow lives in memory for the lifetime of
// the process.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verdantpay/checkout-engine/internal/checkout"
	"github.com/verdantpay/checkout-engine/internal/gateway"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

// TokenSource mints a client token for flows that do not bring their own.
type TokenSource func() (string, error)

// Handler holds HTTP handler dependencies.
type Handler struct {
	engine *checkout.Engine
	store  *FlowStore
	gw     *gateway.Gateway
	tokens TokenSource
	health *telemetry.EndpointTracker
}

// New creates a new Handler. The gateway and health tracker are optional;
// without them the corresponding endpoints are not registered.
func New(engine *checkout.Engine, gw *gateway.Gateway, tokens TokenSource, health *telemetry.EndpointTracker) *Handler {
	return &Handler{
		engine: engine,
		store:  NewFlowStore(),
		gw:     gw,
		tokens: tokens,
		health: health,
	}
}

// Store returns the flow store for external inspection.
func (h *Handler) Store() *FlowStore { return h.store }

// RegisterRoutes registers all API routes on the given router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/checkouts", h.CreateCheckout).Methods(http.MethodPost)
	r.HandleFunc("/checkouts/{id}", h.GetCheckout).Methods(http.MethodGet)
	r.HandleFunc("/checkouts/{id}", h.DeleteCheckout).Methods(http.MethodDelete)
	r.HandleFunc("/checkouts/{id}/fields", h.UpdateField).Methods(http.MethodPost)
	r.HandleFunc("/checkouts/{id}/billing-address", h.UpdateBillingAddress).Methods(http.MethodPost)
	r.HandleFunc("/checkouts/{id}/submit", h.SubmitCheckout).Methods(http.MethodPost)
	r.HandleFunc("/checkouts/{id}/cancel", h.CancelCheckout).Methods(http.MethodPost)
	r.HandleFunc("/checkouts/{id}/reset", h.ResetCheckout).Methods(http.MethodPost)
	if h.gw != nil {
		r.HandleFunc("/simulate/degrade", h.SimulateDegrade).Methods(http.MethodPost)
		r.HandleFunc("/simulate/batch", h.SimulateBatch).Methods(http.MethodPost)
	}
	if h.health != nil {
		r.HandleFunc("/health/endpoints", h.GetEndpointHealth).Methods(http.MethodGet)
	}
}

// GetEndpointHealth handles GET /health/endpoints.
func (h *Handler) GetEndpointHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": h.health.Snapshot(),
	})
}

// createRequest is the request body for POST /checkouts.
type createRequest struct {
	PaymentMethodType string `json:"payment_method_type"`
	ClientToken       string `json:"client_token"`
}

// CreateCheckout handles POST /checkouts.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PaymentMethodType == "" {
		writeError(w, http.StatusBadRequest, "payment_method_type is required")
		return
	}

	clientToken := req.ClientToken
	if clientToken == "" {
		if h.tokens == nil {
			writeError(w, http.StatusBadRequest, "client_token is required")
			return
		}
		minted, err := h.tokens()
		if err != nil {
			writeError(w, http.StatusBadGateway, "minting client token: "+err.Error())
			return
		}
		clientToken = minted
	}

	record := &FlowRecord{}
	flow, err := h.engine.NewFlow(model.PaymentMethodType(req.PaymentMethodType), checkout.Delegates{
		Step:       record,
		Validation: record,
	})
	if err != nil {
		var unsupported *checkout.UnsupportedMethodError
		if errors.As(err, &unsupported) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.store.Save(&ManagedFlow{Flow: flow, Record: record})
	flow.Start(clientToken)

	slog.Info("checkout_created",
		"flow_id", flow.ID(),
		"method_type", req.PaymentMethodType,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    flow.ID(),
		"state": flow.State(),
	})
}

// GetCheckout handles GET /checkouts/{id}.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}

	steps, statuses := mf.Record.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       mf.Flow.ID(),
		"state":    mf.Flow.State(),
		"steps":    steps,
		"statuses": statuses,
		"networks": mf.Flow.Networks(),
	})
}

// DeleteCheckout handles DELETE /checkouts/{id}: cancel and forget.
func (h *Handler) DeleteCheckout(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	mf.Flow.Cancel()
	h.store.Delete(mf.Flow.ID())
	w.WriteHeader(http.StatusNoContent)
}

// fieldRequest is the request body for POST /checkouts/{id}/fields.
type fieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

var knownFields = map[model.FieldKind]bool{
	model.FieldCardNumber:     true,
	model.FieldCVV:            true,
	model.FieldExpiryMonth:    true,
	model.FieldExpiryYear:     true,
	model.FieldCardholderName: true,
	model.FieldBankID:         true,
	model.FieldBankFilter:     true,
	model.FieldFirstName:      true,
	model.FieldLastName:       true,
	model.FieldEmailAddress:   true,
	model.FieldRoutingNumber:  true,
	model.FieldAccountNumber:  true,
	model.FieldMandateAccept:  true,
}

// UpdateField handles POST /checkouts/{id}/fields.
func (h *Handler) UpdateField(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	field := model.FieldKind(req.Field)
	if !knownFields[field] {
		writeError(w, http.StatusBadRequest, "unknown field: "+req.Field)
		return
	}

	if err := mf.Flow.UpdateField(field, req.Value); err != nil {
		respondFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"state": mf.Flow.State()})
}

// UpdateBillingAddress handles POST /checkouts/{id}/billing-address.
func (h *Handler) UpdateBillingAddress(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var address model.BillingAddress
	if err := json.NewDecoder(r.Body).Decode(&address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := mf.Flow.UpdateBillingAddress(address); err != nil {
		respondFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"state": mf.Flow.State()})
}

// SubmitCheckout handles POST /checkouts/{id}/submit.
func (h *Handler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := mf.Flow.Submit(); err != nil {
		respondFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"state": mf.Flow.State()})
}

// CancelCheckout handles POST /checkouts/{id}/cancel.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	mf.Flow.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{"state": mf.Flow.State()})
}

// ResetCheckout handles POST /checkouts/{id}/reset.
func (h *Handler) ResetCheckout(w http.ResponseWriter, r *http.Request) {
	mf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := mf.Flow.Reset(); err != nil {
		respondFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": mf.Flow.State()})
}

// degradeRequest is the request body for POST /simulate/degrade.
type degradeRequest struct {
	Degraded bool `json:"degraded"`
}

// SimulateDegrade handles POST /simulate/degrade.
func (h *Handler) SimulateDegrade(w http.ResponseWriter, r *http.Request) {
	var req degradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.gw.SetDegraded(req.Degraded)
	slog.Info("gateway_degradation_toggled",
		"gateway", h.gw.Name(),
		"degraded", req.Degraded,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway":  h.gw.Name(),
		"degraded": req.Degraded,
		"message":  "degradation mode updated",
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*ManagedFlow, bool) {
	id := mux.Vars(r)["id"]
	mf, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "checkout not found: "+id)
		return nil, false
	}
	return mf, true
}

// respondFlowError maps engine errors to HTTP statuses.
func respondFlowError(w http.ResponseWriter, err error) {
	var stateErr *checkout.StateError
	var notValidated *checkout.NotValidatedError
	switch {
	case errors.Is(err, checkout.ErrSubmitInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notValidated):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
