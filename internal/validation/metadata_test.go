package validation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/verdantpay/checkout-engine/internal/dispatch"
)

// recordingObserver captures delivered metadata results in order.
type recordingObserver struct {
	mu      sync.Mutex
	results []MetadataResult
}

func (o *recordingObserver) OnMetadata(result MetadataResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *recordingObserver) snapshot() []MetadataResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]MetadataResult, len(o.results))
	copy(out, o.results)
	return out
}

func (o *recordingObserver) waitForSource(t *testing.T, source MetadataSource) MetadataResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range o.snapshot() {
			if r.Source == source {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q metadata result arrived, have %v", source, o.snapshot())
	return MetadataResult{}
}

func (o *recordingObserver) waitFor(t *testing.T, n int) []MetadataResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if results := o.snapshot(); len(results) >= n {
			return results
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d metadata results, have %d", n, len(o.snapshot()))
	return nil
}

func newMetadataFixture(t *testing.T, handler http.HandlerFunc) (*CardMetadataService, *recordingObserver, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	obs := &recordingObserver{}
	d := dispatch.NewWithBackoff(nil, nil, time.Millisecond, time.Millisecond)
	svc := NewCardMetadataService(d, srv.URL, "access-token", obs, nil)
	svc.SetDebounce(30 * time.Millisecond)
	return svc, obs, &calls
}

func echoNetworks(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	prefix := gjson.GetBytes(body, "binData").String()
	w.Write([]byte(`{"networks":[{"display_name":"Mastercard","value":"MASTERCARD"},{"display_name":"Echo ` + prefix + `","value":"ECHO"}]}`))
}

func TestMetadata_FastTypingCoalescesToOneCall(t *testing.T) {
	svc, obs, calls := newMetadataFixture(t, echoNetworks)

	// Every keystroke of "552266117788" lands inside the debounce window.
	number := "552266117788"
	for i := 1; i <= len(number); i++ {
		svc.OnCardNumberChange(context.Background(), number[:i])
	}

	// Local results for superseded keystrokes are discarded; the remote
	// call happens exactly once, for the final value.
	remote := obs.waitForSource(t, SourceRemote)
	assert.GreaterOrEqual(t, len(remote.Prefix), 6)
	assert.Equal(t, "55226611", remote.Prefix)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestMetadata_SlowTypingIssuesOneCallPerBatch(t *testing.T) {
	svc, obs, calls := newMetadataFixture(t, echoNetworks)

	svc.OnCardNumberChange(context.Background(), "55226611")
	obs.waitFor(t, 1)
	svc.OnCardNumberChange(context.Background(), "5522661177")
	obs.waitFor(t, 2)

	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestMetadata_MixedTypingWithPause(t *testing.T) {
	svc, obs, calls := newMetadataFixture(t, echoNetworks)

	// Rapid burst, then a deliberate pause, then another burst.
	svc.OnCardNumberChange(context.Background(), "552266")
	svc.OnCardNumberChange(context.Background(), "5522661")
	obs.waitFor(t, 1)
	svc.OnCardNumberChange(context.Background(), "55226611")
	svc.OnCardNumberChange(context.Background(), "552266117")
	obs.waitFor(t, 2)

	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestMetadata_SupersededResultDiscarded(t *testing.T) {
	svc, obs, _ := newMetadataFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		prefix := gjson.GetBytes(body, "binData").String()
		if strings.HasPrefix(prefix, "401288") {
			// The older prefix resolves slowly.
			time.Sleep(150 * time.Millisecond)
		}
		w.Write([]byte(`{"networks":[{"display_name":"Net ` + prefix + `","value":"` + prefix + `"}]}`))
	})

	svc.OnCardNumberChange(context.Background(), "40128888")
	time.Sleep(60 * time.Millisecond) // let the slow lookup dispatch
	svc.OnCardNumberChange(context.Background(), "55226611")

	results := obs.waitFor(t, 1)
	time.Sleep(200 * time.Millisecond) // give the stale response time to land

	final := obs.snapshot()
	assert.Equal(t, results[0].Prefix, "55226611")
	for _, r := range final {
		assert.NotEqual(t, "40128888", r.Prefix, "superseded result must not surface")
	}
}

func TestMetadata_BelowThresholdStaysLocal(t *testing.T) {
	svc, obs, calls := newMetadataFixture(t, echoNetworks)

	svc.OnCardNumberChange(context.Background(), "4242")
	results := obs.waitFor(t, 1)

	assert.Equal(t, SourceLocal, results[0].Source)
	require.Len(t, results[0].Networks, 1)
	assert.Equal(t, "VISA", results[0].Networks[0].Value)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestMetadata_RemoteFailureDegradesToLocal(t *testing.T) {
	svc, obs, _ := newMetadataFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	svc.OnCardNumberChange(context.Background(), "42424242")
	results := obs.waitFor(t, 1)

	assert.Equal(t, SourceLocal, results[0].Source)
	require.Len(t, results[0].Networks, 1)
	assert.Equal(t, "Visa", results[0].Networks[0].DisplayName)
}

func TestDetectNetwork(t *testing.T) {
	tests := map[string]string{
		"4242":   "VISA",
		"5522":   "MASTERCARD",
		"2221":   "MASTERCARD",
		"3714":   "AMEX",
		"6011":   "DISCOVER",
		"9999":   "",
		"":       "",
	}
	for digits, want := range tests {
		assert.Equal(t, want, detectNetwork(digits), "digits %q", digits)
	}
}
