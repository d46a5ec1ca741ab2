package validation

import (
	"github.com/go-playground/validator/v10"

	"github.com/verdantpay/checkout-engine/internal/model"
)

var validate = validator.New()

// ValidateBillingAddress applies the billing address struct rules and maps
// failures to per-field verdicts.
func ValidateBillingAddress(b model.BillingAddress) []model.ValidationError {
	return structErrors(validate.Struct(b), billingMessages)
}

// ValidateACHUserDetails applies the ACH user-details struct rules.
func ValidateACHUserDetails(d model.ACHUserDetails) []model.ValidationError {
	return structErrors(validate.Struct(d), achMessages)
}

var billingMessages = map[string]model.ValidationError{
	"FirstName":    {Field: model.FieldFirstName, Message: "Please provide a first name"},
	"LastName":     {Field: model.FieldLastName, Message: "Please provide a last name"},
	"AddressLine1": {Field: "address_line_1", Message: "Please provide an address"},
	"City":         {Field: "city", Message: "Please provide a city"},
	"PostalCode":   {Field: "postal_code", Message: "Please provide a postal code"},
	"CountryCode":  {Field: "country_code", Message: "Please provide a valid country code"},
}

var achMessages = map[string]model.ValidationError{
	"FirstName": {Field: model.FieldFirstName, Message: "Please provide a first name"},
	"LastName":  {Field: model.FieldLastName, Message: "Please provide a last name"},
	"Email":     {Field: model.FieldEmailAddress, Message: "Please provide a valid email address"},
}

func structErrors(err error, messages map[string]model.ValidationError) []model.ValidationError {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []model.ValidationError{{Message: err.Error()}}
	}
	out := make([]model.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		if mapped, ok := messages[fe.StructField()]; ok {
			out = append(out, mapped)
			continue
		}
		out = append(out, model.ValidationError{Message: fe.Error()})
	}
	return out
}

// validateEmail is the per-keystroke email rule, sharing the struct
// validator's email syntax check.
func validateEmail(value string) []model.ValidationError {
	if err := validate.Var(value, "required,email"); err != nil {
		return invalid(model.FieldEmailAddress, "Please provide a valid email address")
	}
	return nil
}
