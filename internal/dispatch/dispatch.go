// Package dispatch issues HTTP requests with exponential backoff and jitter.
// Retry eligibility is decided per failure class from the request's
// RetryConfig; every attempt emits one telemetry event.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

// Request describes one logical HTTP exchange. The body is held as bytes so
// the dispatcher can rebuild the request on every attempt.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is a completed HTTP exchange with its body fully read.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Dispatcher sends requests with retry. Safe for concurrent use.
type Dispatcher struct {
	client      *http.Client
	reporter    telemetry.Reporter
	backoffBase time.Duration
	backoffCap  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Dispatcher. A nil client falls back to http.DefaultClient and
// a nil reporter to a no-op sink.
func New(client *http.Client, reporter telemetry.Reporter) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	return &Dispatcher{
		client:      client,
		reporter:    reporter,
		backoffBase: config.BackoffBase,
		backoffCap:  config.BackoffCap,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithBackoff creates a dispatcher with custom backoff bounds for testing.
func NewWithBackoff(client *http.Client, reporter telemetry.Reporter, base, cap time.Duration) *Dispatcher {
	d := New(client, reporter)
	d.backoffBase = base
	d.backoffCap = cap
	return d
}

// Send performs the request, retrying per rc until it succeeds, the retry
// budget is exhausted, or ctx is cancelled. A 2xx response is success; any
// other response or transport failure is classified for retry eligibility.
func (d *Dispatcher) Send(ctx context.Context, req Request, rc model.RetryConfig) (*Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		d.report("request_attempt", req, map[string]any{"attempt": attempt + 1})

		resp, err := d.attempt(ctx, req)
		if err == nil {
			d.report("request_succeeded", req, map[string]any{
				"attempt": attempt + 1,
				"status":  resp.StatusCode,
			})
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retry, reason := shouldRetry(attempt, rc, err)
		if !retry {
			d.report("request_failed", req, map[string]any{
				"attempt": attempt + 1,
				"reason":  reason,
				"error":   err.Error(),
			})
			// A zero retry budget surfaces the classified error itself,
			// not an exhaustion wrapper. Tokenization relies on this to
			// read provider declines out of the raw StatusError.
			if reason == reasonExhausted && rc.MaxRetries > 0 {
				return nil, &RetriesExhaustedError{Attempts: attempt + 1, Last: lastErr}
			}
			return nil, err
		}

		d.report("request_retry", req, map[string]any{
			"attempt": attempt + 1,
			"reason":  reason,
		})

		if err := d.sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// SendAsync performs Send on a new goroutine and delivers the outcome to done.
func (d *Dispatcher) SendAsync(ctx context.Context, req Request, rc model.RetryConfig, done func(*Response, error)) {
	go func() {
		resp, err := d.Send(ctx, req, rc)
		done(resp, err)
	}()
}

// attempt performs one HTTP round trip and classifies the outcome.
func (d *Dispatcher) attempt(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-SDK-Version", config.SDKVersion)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: body}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}

// shouldRetry decides retry eligibility for one failed attempt.
//
// Failures that are neither network-class nor 5xx are retried unconditionally
// while attempts remain. That branch mirrors the shipped policy; see the
// design notes before narrowing it.
const reasonExhausted = "retries_exhausted"

func shouldRetry(attempt int, rc model.RetryConfig, err error) (bool, string) {
	if attempt >= rc.MaxRetries {
		return false, reasonExhausted
	}

	switch e := err.(type) {
	case *TransportError:
		if rc.RetryNetworkErrors {
			return true, "network_error"
		}
		return false, "network_error_retry_disabled"
	case *StatusError:
		if e.StatusCode >= 500 && e.StatusCode <= 599 {
			if rc.Retry500Errors {
				return true, "server_error"
			}
			return false, "server_error_retry_disabled"
		}
		return true, "unclassified_error"
	default:
		return true, "unclassified_error"
	}
}

// sleep waits out the backoff for the given attempt, honoring cancellation.
func (d *Dispatcher) sleep(ctx context.Context, attempt int) error {
	delay := d.backoffDelay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes the delay before retrying attempt+1. Equal jitter
// over an exponentially growing, capped window: the expected delay is
// non-decreasing across attempts and never exceeds the cap.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	window := d.backoffBase << uint(attempt)
	if window > d.backoffCap || window <= 0 {
		window = d.backoffCap
	}
	half := window / 2

	d.mu.Lock()
	jitter := time.Duration(d.rng.Int63n(int64(half) + 1))
	d.mu.Unlock()

	return half + jitter
}

func (d *Dispatcher) report(name string, req Request, fields map[string]any) {
	fields["method"] = req.Method
	fields["url"] = req.URL
	d.reporter.Emit(telemetry.Event{Name: name, At: time.Now(), Fields: fields})
}
