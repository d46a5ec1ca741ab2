package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/resume"
	"github.com/verdantpay/checkout-engine/internal/scope"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
	"github.com/verdantpay/checkout-engine/internal/validation"
)

// Flow is one checkout attempt for one payment method. A flow owns its
// collected data and all background work it spawns; Cancel stops everything
// transitively. Methods are safe for concurrent use, but a flow drives
// exactly one attempt and is never shared across checkouts.
type Flow struct {
	id         string
	methodType model.PaymentMethodType
	family     model.MethodFamily
	comps      scope.Components
	delegates  Delegates
	reporter   telemetry.Reporter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	session     *clientsession.Session
	desc        model.PaymentMethodDescriptor
	collected   *model.CollectedData
	lastStatus  map[model.FieldKind]model.ValidationState
	banks       []model.Bank
	banksLoaded bool
	networks    []model.CardNetworkCandidate
	metadata    *validation.CardMetadataService
	achStage    int
	challenged  bool

	notifyCh     chan notification
	notifyClosed bool
	notifyDone   chan struct{}
}

// notification carries either a step or a validation status to the single
// per-flow dispatch goroutine.
type notification struct {
	step   *model.CheckoutStep
	status *model.ValidationStatus
}

func newFlow(methodType model.PaymentMethodType, family model.MethodFamily, comps scope.Components, delegates Delegates, reporter telemetry.Reporter) *Flow {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Flow{
		id:         uuid.NewString(),
		methodType: methodType,
		family:     family,
		comps:      comps,
		delegates:  delegates,
		reporter:   reporter,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		collected:  model.NewCollectedData(),
		lastStatus: make(map[model.FieldKind]model.ValidationState),
		notifyCh:   make(chan notification, 64),
		notifyDone: make(chan struct{}),
	}
	go f.notifyLoop(f.notifyCh, f.notifyDone)
	return f
}

// ID returns the flow's unique identifier.
func (f *Flow) ID() string { return f.id }

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Networks returns the latest card network candidates from the BIN lookup.
func (f *Flow) Networks() []model.CardNetworkCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.CardNetworkCandidate, len(f.networks))
	copy(out, f.networks)
	return out
}

// notifyLoop delivers notifications in order on one goroutine. Delegate
// panics are contained: the transition is already committed.
func (f *Flow) notifyLoop(ch chan notification, done chan struct{}) {
	defer close(done)
	for n := range ch {
		f.deliver(n)
	}
}

func (f *Flow) deliver(n notification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("checkout_delegate_panic", "flow_id", f.id, "panic", r)
		}
	}()
	if n.step != nil && f.delegates.Step != nil {
		f.delegates.Step.OnStep(*n.step)
	}
	if n.status != nil && f.delegates.Validation != nil {
		f.delegates.Validation.OnValidationStatus(*n.status)
	}
}

// pushStep enqueues a step. Callers hold f.mu, so enqueue order equals
// transition order. The terminal step closes the stream.
func (f *Flow) pushStep(step model.CheckoutStep) {
	if f.notifyClosed {
		return
	}
	f.notifyCh <- notification{step: &step}
	if step.Kind.IsTerminal() {
		close(f.notifyCh)
		f.notifyClosed = true
	}
}

// pushStatus enqueues a validation status. Callers hold f.mu.
func (f *Flow) pushStatus(status model.ValidationStatus) {
	if f.notifyClosed {
		return
	}
	f.notifyCh <- notification{status: &status}
}

// Wait blocks until every enqueued notification has been delivered and the
// flow has reached a terminal state. Intended for tests and shutdown paths.
func (f *Flow) Wait() {
	f.mu.Lock()
	done := f.notifyDone
	f.mu.Unlock()
	<-done
}

// Start begins the flow: it resolves the session configuration and any
// method prerequisites, then emits the first data-collection step. Start is
// re-entrant; calls on a non-idle flow are no-ops.
func (f *Flow) Start(clientToken string) {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return
	}
	f.state = StateLoading
	f.pushStep(model.CheckoutStep{Kind: model.StepLoading})
	f.mu.Unlock()

	slog.Info("checkout_started", "flow_id", f.id, "method_type", string(f.methodType))
	go f.load(clientToken)
}

// load resolves the session and per-family prerequisites off the caller's
// goroutine, then commits the transition to data collection. The context is
// snapshotted up front: Reset swaps f.ctx while an old goroutine may still
// be unwinding.
func (f *Flow) load(clientToken string) {
	f.mu.Lock()
	ctx := f.ctx
	f.mu.Unlock()

	session, err := f.comps.Sessions.SetupSession(ctx, clientToken, clientsession.Options{})
	if err != nil {
		f.fail(err)
		return
	}

	desc, ok := session.Config.Descriptor(f.methodType)
	if !ok {
		f.fail(&UnsupportedMethodError{Type: f.methodType})
		return
	}

	var banks []model.Bank
	if f.family == model.FamilyBankRedirect {
		banks, err = f.comps.Sessions.FetchBanks(ctx, session, desc.ProcessorConfigID)
		if err != nil {
			f.fail(err)
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateLoading {
		// Cancelled while loading; the terminal step already went out.
		return
	}

	f.session = session
	f.desc = desc
	if f.family == model.FamilyCard && f.comps.Metadata != nil {
		f.metadata = f.comps.Metadata(session, flowObserver{f})
	}

	f.state = StateDataCollection
	switch f.family {
	case model.FamilyBankRedirect:
		f.banks = banks
		f.banksLoaded = true
		f.pushStep(model.CheckoutStep{Kind: model.StepBanksRetrieved, Banks: banks})
	case model.FamilyACH:
		f.achStage = 0
		f.pushStep(model.CheckoutStep{Kind: model.StepUserDetailsCollection})
	default:
		f.pushStep(model.CheckoutStep{Kind: model.StepDataCollection})
	}
}

// Cancel moves the flow to the terminal cancelled state and stops all
// outstanding owned work: pending requests, debounce timers, poll loops.
// Cancel is idempotent and wins any race with late results.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() {
		return
	}
	f.cancel()
	if f.metadata != nil {
		f.metadata.Stop()
	}
	f.state = StateCancelled
	f.pushStep(model.CheckoutStep{Kind: model.StepCancelled})
	slog.Info("checkout_cancelled", "flow_id", f.id)
}

// fail commits a terminal failure unless the flow already ended. The step
// carries a human-readable message and a diagnostics id, never raw error
// content.
func (f *Flow) fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() {
		return
	}

	if f.metadata != nil {
		f.metadata.Stop()
	}
	message, diagnostics := describeFailure(err)
	f.state = StateFailure
	f.pushStep(model.CheckoutStep{
		Kind:          model.StepFailure,
		Message:       message,
		DiagnosticsID: diagnostics,
	})

	slog.Warn("checkout_failed", "flow_id", f.id, "diagnostics_id", diagnostics, "error", err)
	f.reporter.Emit(telemetry.Event{Name: "checkout_failed", Fields: map[string]any{
		"flow_id":        f.id,
		"diagnostics_id": diagnostics,
	}})
}

// describeFailure maps internal errors to user-facing messages.
func describeFailure(err error) (message, diagnosticsID string) {
	diagnosticsID = uuid.NewString()

	var invalidToken *clientsession.InvalidClientTokenError
	var exhausted *dispatch.RetriesExhaustedError
	switch {
	case errors.As(err, &invalidToken):
		message = "The checkout session could not be started because the client token is invalid or expired."
	case errors.Is(err, clientsession.ErrMisconfiguredPaymentMethods):
		message = "No payment methods are available for this session."
	case errors.Is(err, resume.ErrPollTimeout):
		message = "The payment did not complete in time. Its final state is unknown."
	case errors.As(err, &exhausted):
		message = "A network problem prevented the payment from completing."
	default:
		message = "Something went wrong while processing the payment."
	}
	return message, diagnosticsID
}

// flowObserver forwards BIN metadata into the owning flow.
type flowObserver struct {
	f *Flow
}

func (o flowObserver) OnMetadata(result validation.MetadataResult) {
	o.f.mu.Lock()
	defer o.f.mu.Unlock()
	if o.f.state.IsTerminal() {
		return
	}
	o.f.networks = result.Networks
	o.f.reporter.Emit(telemetry.Event{Name: "card_metadata_updated", Fields: map[string]any{
		"flow_id":  o.f.id,
		"source":   string(result.Source),
		"networks": len(result.Networks),
	}})
}
