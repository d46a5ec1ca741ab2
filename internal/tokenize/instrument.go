package tokenize

import (
	"fmt"

	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/validation"
)

// UnsupportedTypeError means no payload builder exists for the method type.
// It fails fast, before any network traffic.
type UnsupportedTypeError struct {
	Type model.PaymentMethodType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("payment method type %q is not supported for tokenization", string(e.Type))
}

// buildInstrument is the total mapping from method type to payment
// instrument payload: one case per supported family plus an explicit
// unsupported fallback.
func buildInstrument(desc model.PaymentMethodDescriptor, data *model.CollectedData) (map[string]any, error) {
	family, ok := desc.Type.Family()
	if !ok {
		return nil, &UnsupportedTypeError{Type: desc.Type}
	}

	switch family {
	case model.FamilyCard:
		return cardInstrument(data), nil
	case model.FamilyBankRedirect:
		return bankRedirectInstrument(desc, data), nil
	case model.FamilyACH:
		return achInstrument(desc, data), nil
	default:
		return nil, &UnsupportedTypeError{Type: desc.Type}
	}
}

func cardInstrument(data *model.CollectedData) map[string]any {
	instrument := map[string]any{
		"number":          validation.DigitsOnly(data.Get(model.FieldCardNumber)),
		"cvv":             data.Get(model.FieldCVV),
		"expirationMonth": data.Get(model.FieldExpiryMonth),
		"expirationYear":  data.Get(model.FieldExpiryYear),
		"cardholderName":  data.Get(model.FieldCardholderName),
	}
	if billing := data.BillingAddress(); billing != nil {
		instrument["billingAddress"] = billing
	}
	return instrument
}

func bankRedirectInstrument(desc model.PaymentMethodDescriptor, data *model.CollectedData) map[string]any {
	return map[string]any{
		"paymentMethodType":     string(desc.Type),
		"paymentMethodConfigId": desc.ProcessorConfigID,
		"type":                  "OFF_SESSION_PAYMENT",
		"sessionInfo": map[string]any{
			"bankId": data.Get(model.FieldBankID),
			"locale": "en-US",
		},
	}
}

func achInstrument(desc model.PaymentMethodDescriptor, data *model.CollectedData) map[string]any {
	return map[string]any{
		"paymentMethodType":     string(desc.Type),
		"paymentMethodConfigId": desc.ProcessorConfigID,
		"bankAccount": map[string]any{
			"routingNumber": data.Get(model.FieldRoutingNumber),
			"accountNumber": data.Get(model.FieldAccountNumber),
		},
		"userDetails": map[string]any{
			"firstName":    data.Get(model.FieldFirstName),
			"lastName":     data.Get(model.FieldLastName),
			"emailAddress": data.Get(model.FieldEmailAddress),
		},
		"mandateAccepted": data.Get(model.FieldMandateAccept) == "true",
	}
}
