package tokenize

import (
	"errors"
	"fmt"

	"github.com/verdantpay/checkout-engine/internal/dispatch"
)

// Error is a provider-classified tokenization failure. It is terminal for
// the current submission attempt; the flow returns to data collection.
type Error struct {
	ProviderCode  string
	Description   string
	DiagnosticsID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tokenization failed (%s): %s [diagnostics %s]", e.ProviderCode, e.Description, e.DiagnosticsID)
}

func asStatusError(err error, target **dispatch.StatusError) bool {
	return errors.As(err, target)
}
