package checkout

import (
	"context"

	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/validation"
)

// UpdateField records a new value for one collectable field and validates
// it. Exactly one validating status and exactly one terminal status are
// emitted per call, in order. Updates are accepted while loading so that
// premature input surfaces a named validation error instead of a no-op.
func (f *Flow) UpdateField(field model.FieldKind, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateLoading && f.state != StateDataCollection {
		return &StateError{Op: "update", State: f.state}
	}

	f.collected.Set(field, value)
	f.pushStatus(model.ValidationStatus{State: model.Validating, Field: field})

	// The BIN lookup tracks raw input: a partial number that fails local
	// validation still supersedes the pending lookup and, past the digit
	// threshold, schedules its own.
	if field == model.FieldCardNumber && f.metadata != nil {
		f.metadata.OnCardNumberChange(f.ctx, value)
	}

	errs := validation.ValidateField(field, value, validation.Context{
		BanksLoaded: f.banksLoaded,
		Banks:       f.banks,
		Collected:   f.collected,
	})

	if len(errs) > 0 {
		f.lastStatus[field] = model.Invalid
		f.pushStatus(model.ValidationStatus{State: model.Invalid, Field: field, Errors: errs})
		return nil
	}

	f.lastStatus[field] = model.Valid
	f.pushStatus(model.ValidationStatus{State: model.Valid, Field: field})
	f.afterValidUpdate(field, value)
	return nil
}

// afterValidUpdate applies the side effects of a successful update. Called
// with f.mu held.
func (f *Flow) afterValidUpdate(field model.FieldKind, value string) {
	if field == model.FieldBankFilter && f.banksLoaded {
		f.pushStep(model.CheckoutStep{
			Kind:  model.StepBanksRetrieved,
			Banks: validation.FilterBanks(f.banks, value),
		})
	}

	if f.family == model.FamilyACH {
		f.advanceACHStage()
	}
}

// advanceACHStage walks the ACH collection ladder as field groups become
// valid: user details, then bank account, then the mandate. Called with
// f.mu held.
func (f *Flow) advanceACHStage() {
	switch f.achStage {
	case 0:
		if f.allValid(model.FieldFirstName, model.FieldLastName, model.FieldEmailAddress) {
			f.achStage = 1
			f.pushStep(model.CheckoutStep{Kind: model.StepBankAccountCollection})
		}
	case 1:
		if f.allValid(model.FieldRoutingNumber, model.FieldAccountNumber) {
			f.achStage = 2
			f.pushStep(model.CheckoutStep{Kind: model.StepMandateAcceptance})
		}
	}
}

func (f *Flow) allValid(fields ...model.FieldKind) bool {
	for _, field := range fields {
		if f.lastStatus[field] != model.Valid {
			return false
		}
	}
	return true
}

// UpdateBillingAddress records the billing address as one logical field,
// with the same validating-then-terminal status contract as UpdateField.
func (f *Flow) UpdateBillingAddress(address model.BillingAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateLoading && f.state != StateDataCollection {
		return &StateError{Op: "update", State: f.state}
	}

	f.collected.SetBillingAddress(address)
	f.pushStatus(model.ValidationStatus{State: model.Validating, Field: model.FieldBillingAddress})

	if errs := validation.ValidateBillingAddress(address); len(errs) > 0 {
		f.lastStatus[model.FieldBillingAddress] = model.Invalid
		f.pushStatus(model.ValidationStatus{State: model.Invalid, Field: model.FieldBillingAddress, Errors: errs})
		return nil
	}

	f.lastStatus[model.FieldBillingAddress] = model.Valid
	f.pushStatus(model.ValidationStatus{State: model.Valid, Field: model.FieldBillingAddress})
	return nil
}

// Reset returns a terminal flow to idle for a fresh attempt with the same
// delegates. All prior collected data and statuses are discarded.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.IsTerminal() {
		return &StateError{Op: "reset", State: f.state}
	}

	f.cancel()
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.state = StateIdle
	f.collected = model.NewCollectedData()
	f.lastStatus = make(map[model.FieldKind]model.ValidationState)
	f.banks = nil
	f.banksLoaded = false
	f.networks = nil
	f.metadata = nil
	f.achStage = 0
	f.challenged = false

	f.notifyCh = make(chan notification, 64)
	f.notifyDone = make(chan struct{})
	f.notifyClosed = false
	go f.notifyLoop(f.notifyCh, f.notifyDone)
	return nil
}
