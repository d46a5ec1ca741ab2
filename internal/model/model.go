package model

import "time"

// PaymentMethodType identifies a concrete payment method offered in a session.
type PaymentMethodType string

const (
	TypePaymentCard PaymentMethodType = "PAYMENT_CARD"
	TypeAdyenIDeal  PaymentMethodType = "ADYEN_IDEAL"
	TypeAdyenDotPay PaymentMethodType = "ADYEN_DOTPAY"
	TypeStripeACH   PaymentMethodType = "STRIPE_ACH"
)

// MethodFamily groups payment method types that share a checkout flow shape.
type MethodFamily string

const (
	FamilyCard         MethodFamily = "card"
	FamilyBankRedirect MethodFamily = "bank_redirect"
	FamilyACH          MethodFamily = "ach"
)

// Family maps a payment method type to its flow family. The second return
// value is false for types the engine does not support.
func (t PaymentMethodType) Family() (MethodFamily, bool) {
	switch t {
	case TypePaymentCard:
		return FamilyCard, true
	case TypeAdyenIDeal, TypeAdyenDotPay:
		return FamilyBankRedirect, true
	case TypeStripeACH:
		return FamilyACH, true
	default:
		return "", false
	}
}

// ManagerCategory describes how a payment method collects its input.
type ManagerCategory string

const (
	CategoryRedirect       ManagerCategory = "redirect"
	CategoryRawData        ManagerCategory = "raw-data"
	CategoryCardComponents ManagerCategory = "card-components"
)

// Intent is the purpose of a tokenization exchange.
type Intent string

const (
	IntentCheckout Intent = "checkout"
	IntentVault    Intent = "vault"
)

// FieldKind identifies one piece of collectable user input.
type FieldKind string

const (
	FieldCardNumber     FieldKind = "card_number"
	FieldCVV            FieldKind = "cvv"
	FieldExpiryMonth    FieldKind = "expiry_month"
	FieldExpiryYear     FieldKind = "expiry_year"
	FieldCardholderName FieldKind = "cardholder_name"
	FieldBankID         FieldKind = "bank_id"
	FieldBankFilter     FieldKind = "bank_filter"
	FieldFirstName      FieldKind = "first_name"
	FieldLastName       FieldKind = "last_name"
	FieldEmailAddress   FieldKind = "email_address"
	FieldRoutingNumber  FieldKind = "routing_number"
	FieldAccountNumber  FieldKind = "account_number"
	FieldMandateAccept  FieldKind = "mandate_accepted"
	FieldBillingAddress FieldKind = "billing_address"
)

// PaymentMethodDescriptor is the immutable, per-session description of one
// available payment method, derived from the fetched configuration.
type PaymentMethodDescriptor struct {
	Type              PaymentMethodType `json:"type"`
	ProcessorConfigID string            `json:"processor_config_id"`
	DisplayName       string            `json:"display_name"`
	RequiredFields    []FieldKind       `json:"required_fields"`
	SupportedIntents  []Intent          `json:"supported_intents"`
	Category          ManagerCategory   `json:"category"`
}

// SupportsIntent reports whether the descriptor allows the given intent.
func (d PaymentMethodDescriptor) SupportsIntent(intent Intent) bool {
	for _, i := range d.SupportedIntents {
		if i == intent {
			return true
		}
	}
	return false
}

// Configuration is one immutable snapshot of session configuration. It is
// replaced wholesale on refresh and never mutated in place.
type Configuration struct {
	CoreURL        string                    `json:"core_url"`
	PCIURL         string                    `json:"pci_url"`
	BinDataURL     string                    `json:"bin_data_url"`
	AccountID      string                    `json:"account_id"`
	PaymentMethods []PaymentMethodDescriptor `json:"payment_methods"`
}

// Descriptor returns the descriptor for the given method type, if present.
func (c Configuration) Descriptor(t PaymentMethodType) (PaymentMethodDescriptor, bool) {
	for _, d := range c.PaymentMethods {
		if d.Type == t {
			return d, true
		}
	}
	return PaymentMethodDescriptor{}, false
}

// Bank is one selectable bank for a redirect-based payment method.
type Bank struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IconURL  string `json:"icon_url,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// PaymentMethodToken is the opaque result of a successful tokenization
// exchange, plus echoing display metadata. Created once per submission.
type PaymentMethodToken struct {
	Token          string    `json:"token"`
	InstrumentType string    `json:"payment_instrument_type"`
	Network        string    `json:"network,omitempty"`
	Last4          string    `json:"last4,omitempty"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RetryConfig controls the dispatcher's retry behavior for one request.
type RetryConfig struct {
	MaxRetries         int
	RetryNetworkErrors bool
	Retry500Errors     bool
}

// CardNetworkCandidate is one possible card network for a BIN prefix.
type CardNetworkCandidate struct {
	DisplayName string `json:"display_name"`
	Value       string `json:"value"`
}
