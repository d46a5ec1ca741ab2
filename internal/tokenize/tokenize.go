// Package tokenize exchanges collected payment data for an opaque payment
// method token at the session's PCI endpoint.
package tokenize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verdantpay/checkout-engine/internal/clientsession"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// Service performs the tokenization exchange. It never retries on its own:
// the flow's single-flight discipline guarantees at most one token per
// logical submission.
type Service struct {
	dispatcher *dispatch.Dispatcher
}

// NewService creates a tokenization service over the given dispatcher.
func NewService(dispatcher *dispatch.Dispatcher) *Service {
	return &Service{dispatcher: dispatcher}
}

// tokenRequest is the wire body for the exchange.
type tokenRequest struct {
	PaymentInstrument map[string]any `json:"paymentInstrument"`
	TokenType         string         `json:"tokenType"`
}

// tokenResponse is the provider's token document.
type tokenResponse struct {
	Token                 string `json:"token"`
	PaymentInstrumentType string `json:"paymentInstrumentType"`
	PaymentInstrumentData struct {
		Network     string `json:"network"`
		Last4       string `json:"last4Digits"`
		RedirectURL string `json:"redirectUrl"`
	} `json:"paymentInstrumentData"`
}

// errorResponse is the provider's error envelope.
type errorResponse struct {
	Error struct {
		Code          string `json:"code"`
		Description   string `json:"description"`
		DiagnosticsID string `json:"diagnosticsId"`
	} `json:"error"`
}

// Tokenize builds the payment instrument for the descriptor's type and
// exchanges it for a token. The token is returned unchanged to the caller
// and is never regenerated for the same submission.
func (s *Service) Tokenize(ctx context.Context, session *clientsession.Session, desc model.PaymentMethodDescriptor, data *model.CollectedData, intent model.Intent) (*model.PaymentMethodToken, error) {
	instrument, err := buildInstrument(desc, data)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(tokenRequest{
		PaymentInstrument: instrument,
		TokenType:         tokenType(intent),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+session.AccessToken)

	// Tokenization is never retried at this layer; transport-level retry is
	// disabled so a single logical submission cannot double-tokenize.
	resp, err := s.dispatcher.Send(ctx, dispatch.Request{
		Method:  http.MethodPost,
		URL:     session.Config.PCIURL + "/payment-instruments",
		Headers: headers,
		Body:    body,
	}, model.RetryConfig{MaxRetries: 0})
	if err != nil {
		return nil, classifyError(err)
	}

	var wire tokenResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if wire.Token == "" {
		return nil, &Error{
			ProviderCode:  "EMPTY_TOKEN",
			Description:   "provider returned an empty token",
			DiagnosticsID: uuid.NewString(),
		}
	}

	return &model.PaymentMethodToken{
		Token:          wire.Token,
		InstrumentType: wire.PaymentInstrumentType,
		Network:        wire.PaymentInstrumentData.Network,
		Last4:          wire.PaymentInstrumentData.Last4,
		RedirectURL:    wire.PaymentInstrumentData.RedirectURL,
		CreatedAt:      time.Now(),
	}, nil
}

func tokenType(intent model.Intent) string {
	if intent == model.IntentVault {
		return "MULTI_USE"
	}
	return "SINGLE_USE"
}

// classifyError wraps provider failures into a typed Error with a
// diagnostics id for support correlation.
func classifyError(err error) error {
	var status *dispatch.StatusError
	if !asStatusError(err, &status) {
		return fmt.Errorf("tokenization exchange: %w", err)
	}

	var wire errorResponse
	_ = json.Unmarshal(status.Body, &wire)

	code := wire.Error.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status.StatusCode)
	}
	description := wire.Error.Description
	if description == "" {
		description = "tokenization was declined by the provider"
	}
	diagnostics := wire.Error.DiagnosticsID
	if diagnostics == "" {
		diagnostics = uuid.NewString()
	}

	return &Error{
		ProviderCode:  code,
		Description:   description,
		DiagnosticsID: diagnostics,
	}
}
