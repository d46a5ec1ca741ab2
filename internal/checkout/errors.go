package checkout

import (
	"errors"
	"fmt"

	"github.com/verdantpay/checkout-engine/internal/model"
)

// ErrSubmitInFlight is returned synchronously when Submit is called while a
// prior submission is still outstanding. The second call is rejected, never
// queued.
var ErrSubmitInFlight = errors.New("a submission is already in flight")

// UnsupportedMethodError means the engine has no flow for the method type.
type UnsupportedMethodError struct {
	Type model.PaymentMethodType
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("payment method type %q is not supported", string(e.Type))
}

// StateError means an operation arrived in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed in state %q", e.Op, string(e.State))
}

// NotValidatedError rejects a submit whose collected data is not fully valid.
type NotValidatedError struct {
	Field model.FieldKind
}

func (e *NotValidatedError) Error() string {
	return fmt.Sprintf("field %q has not passed validation", string(e.Field))
}
