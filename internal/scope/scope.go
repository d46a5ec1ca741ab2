// Package scope maps a payment method type to the concrete component set
// that drives its checkout flow. The state machine consumes only the
// interfaces defined here.
package scope

import (
	"context"
	"fmt"
	"net/http"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/resume"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
	"github.com/verdantpay/checkout-engine/internal/tokenize"
	"github.com/verdantpay/checkout-engine/internal/validation"
)

// SessionProvider resolves client tokens into session state and loads
// method-specific session metadata.
type SessionProvider interface {
	SetupSession(ctx context.Context, clientToken string, opts clientsession.Options) (*clientsession.Session, error)
	FetchBanks(ctx context.Context, session *clientsession.Session, processorConfigID string) ([]model.Bank, error)
}

// Tokenizer exchanges collected data for a payment method token.
type Tokenizer interface {
	Tokenize(ctx context.Context, session *clientsession.Session, desc model.PaymentMethodDescriptor, data *model.CollectedData, intent model.Intent) (*model.PaymentMethodToken, error)
}

// Completer waits for asynchronous payment completion.
type Completer interface {
	AwaitCompletion(ctx context.Context, session *clientsession.Session, resumeToken string, policy resume.Policy) (*resume.Outcome, error)
}

// MetadataFactory builds the per-flow card metadata service. Nil for
// families without a BIN lookup path.
type MetadataFactory func(session *clientsession.Session, observer validation.MetadataObserver) *validation.CardMetadataService

// Components is the resolved component set for one payment method type.
type Components struct {
	Sessions   SessionProvider
	Tokenizer  Tokenizer
	Completer  Completer
	Metadata   MetadataFactory
	PollPolicy resume.Policy
	Intent     model.Intent
}

// Resolver resolves a payment method type to its components.
type Resolver interface {
	Resolve(t model.PaymentMethodType) (Components, error)
}

// Registry is the default resolver: one shared dispatcher and service set,
// with per-family polling policies.
type Registry struct {
	sessions  *clientsession.Module
	tokenizer *tokenize.Service
	completer *resume.Controller
	dispatch  *dispatch.Dispatcher
	reporter  telemetry.Reporter
	intent    model.Intent
}

// NewRegistry builds a registry over one HTTP client and reporter.
func NewRegistry(client *http.Client, reporter telemetry.Reporter, intent model.Intent) *Registry {
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	if intent == "" {
		intent = model.IntentCheckout
	}
	d := dispatch.New(client, reporter)
	return &Registry{
		sessions:  clientsession.NewModule(d),
		tokenizer: tokenize.NewService(d),
		completer: resume.NewController(d, reporter),
		dispatch:  d,
		reporter:  reporter,
		intent:    intent,
	}
}

// Sessions exposes the shared configuration module.
func (r *Registry) Sessions() *clientsession.Module { return r.sessions }

// Resolve returns the component set for the given method type.
func (r *Registry) Resolve(t model.PaymentMethodType) (Components, error) {
	family, ok := t.Family()
	if !ok {
		return Components{}, fmt.Errorf("no components registered for payment method type %q", string(t))
	}

	comps := Components{
		Sessions:   r.sessions,
		Tokenizer:  r.tokenizer,
		Completer:  r.completer,
		PollPolicy: resume.DefaultPolicy(),
		Intent:     r.intent,
	}

	if family == model.FamilyCard {
		comps.Metadata = func(session *clientsession.Session, observer validation.MetadataObserver) *validation.CardMetadataService {
			return validation.NewCardMetadataService(r.dispatch, session.Config.BinDataURL, session.AccessToken, observer, r.reporter)
		}
	}

	return comps, nil
}
