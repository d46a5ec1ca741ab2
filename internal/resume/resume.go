// Package resume waits for asynchronous completion of redirect- and
// voucher-based payments by polling the provider's resume endpoint.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

// PollStatus is one poll tick's verdict.
type PollStatus string

const (
	StatusPending        PollStatus = "pending"
	StatusSucceeded      PollStatus = "succeeded"
	StatusFailed         PollStatus = "failed"
	StatusRequiresAction PollStatus = "requires_further_action"
)

// RequiredAction asks the flow to perform an out-of-band step (typically a
// 3DS challenge) before polling can conclude.
type RequiredAction struct {
	Name        string `json:"name"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Outcome is the terminal result of one polling session. RequiredAction is
// set only when Status is StatusRequiresAction; control returns to the flow
// instead of polling blindly.
type Outcome struct {
	Status         PollStatus
	RequiredAction *RequiredAction
}

// Policy bounds one polling session.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPolicy returns the engine's standard polling bounds.
func DefaultPolicy() Policy {
	return Policy{Interval: config.PollInterval, Timeout: config.PollTimeout}
}

// ErrPollTimeout means the overall bound elapsed without a terminal status.
// The payment's final state is unknown; this is deliberately distinct from a
// definitive failed outcome.
var ErrPollTimeout = errors.New("resume polling timed out before a terminal status")

// Controller runs polling sessions. Safe for concurrent use.
type Controller struct {
	dispatcher *dispatch.Dispatcher
	reporter   telemetry.Reporter
}

// NewController creates a Controller.
func NewController(dispatcher *dispatch.Dispatcher, reporter telemetry.Reporter) *Controller {
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	return &Controller{dispatcher: dispatcher, reporter: reporter}
}

// resumeResponse is the provider's poll document.
type resumeResponse struct {
	Status         string          `json:"status"`
	RequiredAction *RequiredAction `json:"requiredAction,omitempty"`
}

// AwaitCompletion polls the resume endpoint until a terminal status, a
// required action, the policy timeout, or cancellation. Cancellation is
// observed before each tick's network call dispatches.
func (c *Controller) AwaitCompletion(ctx context.Context, session *clientsession.Session, resumeToken string, policy Policy) (*Outcome, error) {
	if policy.Interval <= 0 {
		policy.Interval = config.PollInterval
	}
	if policy.Timeout <= 0 {
		policy.Timeout = config.PollTimeout
	}

	deadline := time.NewTimer(policy.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(policy.Interval)
	defer tick.Stop()

	ticks := 0
	for {
		// Cancellation and timeout win over dispatching the next poll.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			c.reporter.Emit(telemetry.Event{Name: "resume_poll_timeout", Fields: map[string]any{"ticks": ticks}})
			return nil, ErrPollTimeout
		default:
		}

		outcome, err := c.poll(ctx, session, resumeToken)
		ticks++
		if err != nil {
			return nil, err
		}
		if outcome.Status != StatusPending {
			c.reporter.Emit(telemetry.Event{Name: "resume_poll_settled", Fields: map[string]any{
				"status": string(outcome.Status),
				"ticks":  ticks,
			}})
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			c.reporter.Emit(telemetry.Event{Name: "resume_poll_timeout", Fields: map[string]any{"ticks": ticks}})
			return nil, ErrPollTimeout
		case <-tick.C:
		}
	}
}

func (c *Controller) poll(ctx context.Context, session *clientsession.Session, resumeToken string) (*Outcome, error) {
	headers := http.Header{}
	headers.Set(clientsession.HeaderClientToken, session.AccessToken)

	resp, err := c.dispatcher.Send(ctx, dispatch.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/resume/%s", session.Config.CoreURL, resumeToken),
		Headers: headers,
	}, model.RetryConfig{
		MaxRetries:         config.DefaultMaxRetries,
		RetryNetworkErrors: true,
		Retry500Errors:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("polling resume endpoint: %w", err)
	}

	var wire resumeResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("decoding resume response: %w", err)
	}

	switch wire.Status {
	case "pending":
		return &Outcome{Status: StatusPending}, nil
	case "success":
		return &Outcome{Status: StatusSucceeded}, nil
	case "failed":
		return &Outcome{Status: StatusFailed}, nil
	case "requires_action":
		return &Outcome{Status: StatusRequiresAction, RequiredAction: wire.RequiredAction}, nil
	default:
		return nil, fmt.Errorf("unknown resume status %q", wire.Status)
	}
}
