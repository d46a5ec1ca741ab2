package model

// ValidationState is the phase of one validation pass.
type ValidationState string

const (
	Validating ValidationState = "validating"
	Valid      ValidationState = "valid"
	Invalid    ValidationState = "invalid"
	ErrorState ValidationState = "error"
)

// IsTerminal reports whether the state ends a validation pass.
func (s ValidationState) IsTerminal() bool {
	return s != Validating
}

// ValidationError describes one failed rule for one field.
type ValidationError struct {
	Field   FieldKind `json:"field"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string { return e.Message }

// ValidationStatus is emitted to the validation delegate. Every collected-data
// mutation produces exactly one Validating status followed by exactly one
// terminal status for the mutated field.
type ValidationStatus struct {
	State  ValidationState   `json:"state"`
	Field  FieldKind         `json:"field"`
	Errors []ValidationError `json:"errors,omitempty"`
	Cause  error             `json:"-"`
}
