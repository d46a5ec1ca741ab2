package clientsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// banksResponse is the provider's bank-list document for a redirect method.
type banksResponse struct {
	Result []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IconURL  string `json:"iconUrl"`
		Disabled bool   `json:"disabled"`
	} `json:"result"`
}

// FetchBanks loads the selectable banks for a redirect payment method. Banks
// are session metadata, so the call rides the configuration module's
// dispatcher and retry policy.
func (m *Module) FetchBanks(ctx context.Context, session *Session, processorConfigID string) ([]model.Bank, error) {
	headers := http.Header{}
	headers.Set(HeaderClientToken, session.AccessToken)

	resp, err := m.dispatcher.Send(ctx, dispatch.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/banks/%s", session.Config.CoreURL, processorConfigID),
		Headers: headers,
	}, model.RetryConfig{
		MaxRetries:         config.DefaultMaxRetries,
		RetryNetworkErrors: true,
		Retry500Errors:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching banks: %w", err)
	}

	var wire banksResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("decoding banks: %w", err)
	}

	banks := make([]model.Bank, 0, len(wire.Result))
	for _, b := range wire.Result {
		banks = append(banks, model.Bank{
			ID:       b.ID,
			Name:     b.Name,
			IconURL:  b.IconURL,
			Disabled: b.Disabled,
		})
	}
	return banks, nil
}
