// Package checkout drives the per-payment-method checkout state machine:
// loading, data collection, validation, tokenization, and the optional
// redirect/poll/challenge tail, ending in exactly one terminal step.
package checkout

import (
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/scope"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

// State is the flow's current position in the checkout sequence.
type State string

const (
	StateIdle              State = "idle"
	StateLoading           State = "loading"
	StateDataCollection    State = "data_collection"
	StateSubmitting        State = "submitting"
	StateAwaitingRedirect  State = "awaiting_redirect"
	StateAwaitingPoll      State = "awaiting_poll"
	StateAwaitingChallenge State = "awaiting_challenge"
	StateSuccess           State = "success"
	StateFailure           State = "failure"
	StateCancelled         State = "cancelled"
)

// IsTerminal reports whether the flow has ended.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateCancelled:
		return true
	default:
		return false
	}
}

// StepDelegate receives checkout steps. Calls arrive strictly ordered on a
// single goroutine per flow; a delegate failure never rolls a transition
// back.
type StepDelegate interface {
	OnStep(step model.CheckoutStep)
}

// ValidationDelegate receives validation statuses, strictly ordered relative
// to the mutations that triggered them.
type ValidationDelegate interface {
	OnValidationStatus(status model.ValidationStatus)
}

// Delegates bundles the external observers for one flow. Either may be nil.
type Delegates struct {
	Step       StepDelegate
	Validation ValidationDelegate
}

// Engine creates checkout flows from a component resolver.
type Engine struct {
	resolver scope.Resolver
	reporter telemetry.Reporter
}

// NewEngine creates an Engine.
func NewEngine(resolver scope.Resolver, reporter telemetry.Reporter) *Engine {
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	return &Engine{resolver: resolver, reporter: reporter}
}

// NewFlow creates an idle flow for one payment method type. Each flow drives
// exactly one checkout attempt.
func (e *Engine) NewFlow(methodType model.PaymentMethodType, delegates Delegates) (*Flow, error) {
	family, ok := methodType.Family()
	if !ok {
		return nil, &UnsupportedMethodError{Type: methodType}
	}
	comps, err := e.resolver.Resolve(methodType)
	if err != nil {
		return nil, err
	}
	return newFlow(methodType, family, comps, delegates, e.reporter), nil
}
