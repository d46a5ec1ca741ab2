package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMethodType_Family(t *testing.T) {
	tests := []struct {
		name   string
		typ    PaymentMethodType
		family MethodFamily
		known  bool
	}{
		{"card", TypePaymentCard, FamilyCard, true},
		{"ideal is bank redirect", TypeAdyenIDeal, FamilyBankRedirect, true},
		{"dotpay is bank redirect", TypeAdyenDotPay, FamilyBankRedirect, true},
		{"stripe ach", TypeStripeACH, FamilyACH, true},
		{"unknown type", PaymentMethodType("SOME_WALLET"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			family, ok := tt.typ.Family()
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.family, family)
		})
	}
}

func TestConfiguration_Descriptor(t *testing.T) {
	cfg := Configuration{
		PaymentMethods: []PaymentMethodDescriptor{
			{Type: TypePaymentCard, ProcessorConfigID: "cfg-card"},
			{Type: TypeAdyenIDeal, ProcessorConfigID: "cfg-ideal"},
		},
	}

	desc, ok := cfg.Descriptor(TypeAdyenIDeal)
	require.True(t, ok)
	assert.Equal(t, "cfg-ideal", desc.ProcessorConfigID)

	_, ok = cfg.Descriptor(TypeStripeACH)
	assert.False(t, ok)
}

func TestPaymentMethodDescriptor_SupportsIntent(t *testing.T) {
	desc := PaymentMethodDescriptor{
		SupportedIntents: []Intent{IntentCheckout},
	}

	assert.True(t, desc.SupportsIntent(IntentCheckout))
	assert.False(t, desc.SupportsIntent(IntentVault))
}

func TestStepKind_IsTerminal(t *testing.T) {
	terminal := []StepKind{StepSuccess, StepFailure, StepCancelled}
	for _, kind := range terminal {
		assert.True(t, kind.IsTerminal(), string(kind))
	}

	nonTerminal := []StepKind{
		StepLoading, StepBanksRetrieved, StepDataCollection,
		StepUserDetailsCollection, StepBankAccountCollection,
		StepMandateAcceptance, StepProcessing, StepAwaitingRedirect,
		StepAwaitingChallenge, StepSubmissionFailed,
	}
	for _, kind := range nonTerminal {
		assert.False(t, kind.IsTerminal(), string(kind))
	}
}

func TestValidationState_IsTerminal(t *testing.T) {
	assert.False(t, Validating.IsTerminal())
	assert.True(t, Valid.IsTerminal())
	assert.True(t, Invalid.IsTerminal())
	assert.True(t, ErrorState.IsTerminal())
}

func TestCollectedData_LastWriteWins(t *testing.T) {
	data := NewCollectedData()

	assert.False(t, data.Has(FieldCardNumber))
	data.Set(FieldCardNumber, "4111")
	data.Set(FieldCardNumber, "4242")

	assert.True(t, data.Has(FieldCardNumber))
	assert.Equal(t, "4242", data.Get(FieldCardNumber))
	assert.Empty(t, data.Get(FieldCVV))
}

func TestCollectedData_BillingAddressCopies(t *testing.T) {
	data := NewCollectedData()
	require.Nil(t, data.BillingAddress())

	address := BillingAddress{FirstName: "Jane", CountryCode: "DE"}
	data.SetBillingAddress(address)

	// Mutating the caller's copy must not leak into the stored address.
	address.CountryCode = "FR"
	assert.Equal(t, "DE", data.BillingAddress().CountryCode)
}
