package checkout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/resume"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
	"github.com/verdantpay/checkout-engine/internal/tokenize"
)

// Submit tokenizes the collected data and drives the method's completion
// tail. Submission is single-flight: a second Submit while one is
// outstanding is rejected synchronously, and the guard rejects any form
// whose required fields have not all validated.
func (f *Flow) Submit() error {
	f.mu.Lock()

	switch f.state {
	case StateDataCollection:
		// proceed
	case StateSubmitting, StateAwaitingRedirect, StateAwaitingPoll, StateAwaitingChallenge:
		f.mu.Unlock()
		return ErrSubmitInFlight
	default:
		state := f.state
		f.mu.Unlock()
		return &StateError{Op: "submit", State: state}
	}

	for _, field := range f.desc.RequiredFields {
		if f.lastStatus[field] != model.Valid {
			f.mu.Unlock()
			return &NotValidatedError{Field: field}
		}
	}

	f.state = StateSubmitting
	f.pushStep(model.CheckoutStep{Kind: model.StepProcessing})
	f.mu.Unlock()

	slog.Info("checkout_submitting", "flow_id", f.id, "method_type", string(f.methodType))
	go f.submit()
	return nil
}

// submit runs the tokenization exchange and hands off to the completion
// tail. Exactly one token is created per logical submission. The context
// and session are snapshotted up front: Reset swaps them while an old
// submission goroutine may still be unwinding.
func (f *Flow) submit() {
	f.mu.Lock()
	ctx, session, desc, collected := f.ctx, f.session, f.desc, f.collected
	f.mu.Unlock()

	token, err := f.comps.Tokenizer.Tokenize(ctx, session, desc, collected, f.comps.Intent)
	if err != nil {
		var terr *tokenize.Error
		switch {
		case errors.As(err, &terr):
			f.returnToCollection(terr)
		case errors.Is(err, context.Canceled):
			// Cancel already committed the terminal step.
		default:
			f.fail(err)
		}
		return
	}

	// A result that arrives after cancellation is discarded; the flow may
	// already have been reset to idle.
	if ctx.Err() != nil {
		return
	}

	f.reporter.Emit(telemetry.Event{Name: "tokenization_succeeded", Fields: map[string]any{
		"flow_id":         f.id,
		"instrument_type": token.InstrumentType,
	}})

	switch f.family {
	case model.FamilyCard:
		f.succeed(token)
	case model.FamilyBankRedirect:
		f.mu.Lock()
		if f.state != StateSubmitting {
			f.mu.Unlock()
			return
		}
		f.state = StateAwaitingRedirect
		f.pushStep(model.CheckoutStep{Kind: model.StepAwaitingRedirect, RedirectURL: token.RedirectURL})
		f.mu.Unlock()
		f.awaitOutcome(ctx, session, token)
	case model.FamilyACH:
		// The processing step stays up while the webhook-driven resume
		// settles; only the internal state advances.
		f.mu.Lock()
		if f.state != StateSubmitting {
			f.mu.Unlock()
			return
		}
		f.state = StateAwaitingPoll
		f.mu.Unlock()
		f.awaitOutcome(ctx, session, token)
	}
}

// awaitOutcome polls the resume endpoint and commits the terminal result.
// A requires-further-action verdict hands control back here once: the flow
// surfaces the challenge, then resumes polling.
func (f *Flow) awaitOutcome(ctx context.Context, session *clientsession.Session, token *model.PaymentMethodToken) {
	outcome, err := f.comps.Completer.AwaitCompletion(ctx, session, token.Token, f.comps.PollPolicy)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		f.fail(err)
		return
	}
	if ctx.Err() != nil {
		// Cancellation won the race; the outcome must not be applied.
		return
	}

	switch outcome.Status {
	case resume.StatusSucceeded:
		f.succeed(token)
	case resume.StatusFailed:
		f.failPayment()
	case resume.StatusRequiresAction:
		f.mu.Lock()
		if f.state.IsTerminal() {
			f.mu.Unlock()
			return
		}
		if f.challenged {
			f.mu.Unlock()
			f.fail(errors.New("provider requested a second challenge"))
			return
		}
		f.challenged = true
		f.state = StateAwaitingChallenge
		step := model.CheckoutStep{Kind: model.StepAwaitingChallenge}
		if outcome.RequiredAction != nil {
			step.RedirectURL = outcome.RequiredAction.RedirectURL
		}
		f.pushStep(step)
		f.mu.Unlock()
		f.awaitOutcome(ctx, session, token)
	}
}

// succeed commits the success step unless the flow already ended.
func (f *Flow) succeed(token *model.PaymentMethodToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() {
		return
	}
	f.state = StateSuccess
	f.pushStep(model.CheckoutStep{Kind: model.StepSuccess, Token: token})
	slog.Info("checkout_succeeded", "flow_id", f.id, "method_type", string(f.methodType))
}

// failPayment commits a definitive declined outcome.
func (f *Flow) failPayment() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() {
		return
	}
	diagnostics := uuid.NewString()
	f.state = StateFailure
	f.pushStep(model.CheckoutStep{
		Kind:          model.StepFailure,
		Message:       "The payment was declined.",
		DiagnosticsID: diagnostics,
	})
	slog.Warn("checkout_payment_declined", "flow_id", f.id, "diagnostics_id", diagnostics)
}

// returnToCollection surfaces a tokenization decline and reopens data
// collection so the user can correct and resubmit.
func (f *Flow) returnToCollection(terr *tokenize.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateSubmitting {
		return
	}
	f.state = StateDataCollection
	f.pushStep(model.CheckoutStep{
		Kind:          model.StepSubmissionFailed,
		Message:       terr.Description,
		DiagnosticsID: terr.DiagnosticsID,
	})
	slog.Warn("checkout_submission_failed", "flow_id", f.id,
		"provider_code", terr.ProviderCode, "diagnostics_id", terr.DiagnosticsID)
}
