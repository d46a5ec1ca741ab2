// Package validation maps collectable input to validation verdicts. Local
// rules are pure and synchronous; the remote BIN lookup path is debounced
// and last-write-wins by input generation.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/verdantpay/checkout-engine/internal/model"
)

// Context carries the flow state a rule may need beyond the raw value.
type Context struct {
	// BanksLoaded reports whether the bank list prerequisite has arrived.
	BanksLoaded bool
	// Banks is the loaded bank list, meaningful only when BanksLoaded.
	Banks []model.Bank
	// Collected allows cross-field rules (expiry month vs year).
	Collected *model.CollectedData
	// Now overrides the clock in tests; zero means time.Now.
	Now time.Time
}

func (c Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// notLoadedMessage is the pre-submission guard wording: mutating data that
// depends on a prerequisite that has not loaded is an invalid status, never
// a silent no-op.
func notLoadedMessage(resource, field string) string {
	return fmt.Sprintf("%s need to be loaded before %s can be collected.", resource, field)
}

// ValidateField applies the local rules for one field. A nil result means
// the value is valid. The same input always yields the same verdict.
func ValidateField(field model.FieldKind, value string, vctx Context) []model.ValidationError {
	switch field {
	case model.FieldCardNumber:
		return validateCardNumber(value)
	case model.FieldCVV:
		return validateCVV(value)
	case model.FieldExpiryMonth:
		return validateExpiryMonth(value)
	case model.FieldExpiryYear:
		return validateExpiryYear(value, vctx)
	case model.FieldCardholderName:
		return requireNonEmpty(field, "Please provide a cardholder name", value)
	case model.FieldBankID:
		return validateBankID(value, vctx)
	case model.FieldBankFilter:
		return validateBankFilter(vctx)
	case model.FieldFirstName:
		return requireNonEmpty(field, "Please provide a first name", value)
	case model.FieldLastName:
		return requireNonEmpty(field, "Please provide a last name", value)
	case model.FieldEmailAddress:
		return validateEmail(value)
	case model.FieldRoutingNumber:
		return validateDigits(field, "Please provide a valid routing number", value, 9, 9)
	case model.FieldAccountNumber:
		return validateDigits(field, "Please provide a valid account number", value, 4, 17)
	case model.FieldMandateAccept:
		if value != "true" {
			return invalid(field, "The mandate must be accepted before submitting")
		}
		return nil
	default:
		return invalid(field, fmt.Sprintf("Unknown field %q", string(field)))
	}
}

func invalid(field model.FieldKind, message string) []model.ValidationError {
	return []model.ValidationError{{Field: field, Message: message}}
}

func requireNonEmpty(field model.FieldKind, message, value string) []model.ValidationError {
	if strings.TrimSpace(value) == "" {
		return invalid(field, message)
	}
	return nil
}

func validateCardNumber(value string) []model.ValidationError {
	digits := DigitsOnly(value)
	if len(digits) < 13 || len(digits) > 19 || digits != strings.ReplaceAll(strings.ReplaceAll(value, " ", ""), "-", "") {
		return invalid(model.FieldCardNumber, "Please provide a valid card number")
	}
	if !luhnValid(digits) {
		return invalid(model.FieldCardNumber, "Please provide a valid card number")
	}
	return nil
}

func validateCVV(value string) []model.ValidationError {
	if len(value) < 3 || len(value) > 4 || DigitsOnly(value) != value {
		return invalid(model.FieldCVV, "Please provide a valid CVV")
	}
	return nil
}

func validateExpiryMonth(value string) []model.ValidationError {
	month, err := strconv.Atoi(value)
	if err != nil || month < 1 || month > 12 {
		return invalid(model.FieldExpiryMonth, "Please provide a valid expiry month")
	}
	return nil
}

func validateExpiryYear(value string, vctx Context) []model.ValidationError {
	year, err := strconv.Atoi(value)
	if err != nil || year < 1000 {
		return invalid(model.FieldExpiryYear, "Please provide a valid expiry year")
	}

	now := vctx.now()
	if year < now.Year() {
		return invalid(model.FieldExpiryYear, "Card expiry date is in the past")
	}
	if year == now.Year() && vctx.Collected != nil {
		if month, merr := strconv.Atoi(vctx.Collected.Get(model.FieldExpiryMonth)); merr == nil {
			if month < int(now.Month()) {
				return invalid(model.FieldExpiryYear, "Card expiry date is in the past")
			}
		}
	}
	return nil
}

func validateBankID(value string, vctx Context) []model.ValidationError {
	if !vctx.BanksLoaded {
		return invalid(model.FieldBankID, notLoadedMessage("Banks", "bank id"))
	}
	for _, b := range vctx.Banks {
		if b.ID == value && !b.Disabled {
			return nil
		}
	}
	return invalid(model.FieldBankID, "Please provide a valid bank id")
}

func validateBankFilter(vctx Context) []model.ValidationError {
	if !vctx.BanksLoaded {
		return invalid(model.FieldBankFilter, notLoadedMessage("Banks", "bank filter"))
	}
	// Any filter text, including empty, is a valid filter.
	return nil
}

func validateDigits(field model.FieldKind, message, value string, minLen, maxLen int) []model.ValidationError {
	if len(value) < minLen || len(value) > maxLen || DigitsOnly(value) != value {
		return invalid(field, message)
	}
	return nil
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid runs the Luhn checksum over a digit string.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// FilterBanks returns the banks whose names match the filter text. The
// filter is split on separators and a bank matches when any token appears in
// its name, case-insensitively. Empty filter text returns the full list.
func FilterBanks(banks []model.Bank, filter string) []model.Bank {
	tokens := filterTokens(filter)
	if len(tokens) == 0 {
		return banks
	}
	out := make([]model.Bank, 0, len(banks))
	for _, b := range banks {
		name := strings.ToLower(b.Name)
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func filterTokens(filter string) []string {
	raw := strings.FieldsFunc(strings.ToLower(filter), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	tokens := raw[:0]
	for _, t := range raw {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
