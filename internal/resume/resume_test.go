package resume

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// scriptedResume serves one response per poll tick, repeating the last.
func scriptedResume(t *testing.T, script ...string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(script) {
			n = len(script) - 1
		}
		w.Write([]byte(script[n]))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func sessionFor(srv *httptest.Server) *clientsession.Session {
	return &clientsession.Session{
		Config:      model.Configuration{CoreURL: srv.URL},
		AccessToken: "access-token",
	}
}

func fastController() *Controller {
	return NewController(dispatch.NewWithBackoff(nil, nil, time.Millisecond, time.Millisecond), nil)
}

func fastPolicy() Policy {
	return Policy{Interval: 10 * time.Millisecond, Timeout: 2 * time.Second}
}

func TestAwaitCompletion_PendingThenSuccess(t *testing.T) {
	srv, calls := scriptedResume(t,
		`{"status":"pending"}`,
		`{"status":"pending"}`,
		`{"status":"success"}`,
	)

	outcome, err := fastController().AwaitCompletion(context.Background(), sessionFor(srv), "res-token", fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestAwaitCompletion_DefinitiveFailure(t *testing.T) {
	srv, _ := scriptedResume(t, `{"status":"failed"}`)

	outcome, err := fastController().AwaitCompletion(context.Background(), sessionFor(srv), "res-token", fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
}

func TestAwaitCompletion_RequiredActionHandsBackControl(t *testing.T) {
	srv, calls := scriptedResume(t,
		`{"status":"requires_action","requiredAction":{"name":"3DS_AUTHENTICATION","redirect_url":"https://acs.test/challenge"}}`,
	)

	outcome, err := fastController().AwaitCompletion(context.Background(), sessionFor(srv), "res-token", fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresAction, outcome.Status)
	require.NotNil(t, outcome.RequiredAction)
	assert.Equal(t, "3DS_AUTHENTICATION", outcome.RequiredAction.Name)
	// Polling must stop instead of continuing blindly.
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestAwaitCompletion_TimeoutIsDistinctFromFailure(t *testing.T) {
	srv, _ := scriptedResume(t, `{"status":"pending"}`)

	policy := Policy{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond}
	outcome, err := fastController().AwaitCompletion(context.Background(), sessionFor(srv), "res-token", policy)

	assert.Nil(t, outcome)
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestAwaitCompletion_CancellationObservedBeforeDispatch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"status":"pending"}`))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := fastController().AwaitCompletion(ctx, sessionFor(srv), "res-token", fastPolicy())
	require.ErrorIs(t, err, context.Canceled)

	// The in-flight tick was the only dispatch; no tick fired after cancel.
	before := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestAwaitCompletion_UnknownStatusIsAnError(t *testing.T) {
	srv, _ := scriptedResume(t, `{"status":"mystery"}`)

	_, err := fastController().AwaitCompletion(context.Background(), sessionFor(srv), "res-token", fastPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resume status")
}
