// Package clientsession validates client tokens, fetches session
// configuration, and caches one immutable configuration snapshot per token.
package clientsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// HeaderClientToken carries the session's access token on provider calls.
const HeaderClientToken = "X-Client-Token"

// ErrMisconfiguredPaymentMethods means the fetched configuration has no
// usable payment methods. Terminal for the checkout session; never retried.
var ErrMisconfiguredPaymentMethods = errors.New("session configuration has no usable payment methods")

// InvalidClientTokenError means the client token is malformed or expired.
// Terminal; surfaced before any network call.
type InvalidClientTokenError struct {
	Reason string
}

func (e *InvalidClientTokenError) Error() string {
	return "invalid client token: " + e.Reason
}

// Capabilities marks which method families the embedding build supports.
// A nil Capabilities enables every family.
type Capabilities map[model.MethodFamily]bool

// Enabled reports whether the family may be offered.
func (c Capabilities) Enabled(f model.MethodFamily) bool {
	if c == nil {
		return true
	}
	return c[f]
}

// Options tunes one SetupSession call.
type Options struct {
	ForceRefresh bool
	Capabilities Capabilities
}

// Session is the resolved state for one client token: the configuration
// snapshot plus the access token used on subsequent provider calls.
type Session struct {
	Config      model.Configuration
	AccessToken string
	ExpiresAt   time.Time
}

// Module fetches and caches session configuration. The cache is the one
// intentional piece of process-wide shared state in the engine; snapshots
// are immutable so concurrent readers never observe a torn value.
type Module struct {
	dispatcher *dispatch.Dispatcher
	cache      *gocache.Cache
	group      singleflight.Group
}

// NewModule creates a Module over the given dispatcher.
func NewModule(dispatcher *dispatch.Dispatcher) *Module {
	return &Module{
		dispatcher: dispatcher,
		cache:      gocache.New(config.SessionCacheTTL, 2*config.SessionCacheTTL),
	}
}

// tokenClaims is the decoded client token payload the engine relies on.
type tokenClaims struct {
	ConfigurationURL string
	AccessToken      string
	ExpiresAt        time.Time
}

// SetupSession validates the client token, then returns the cached session
// for it or fetches a fresh one. Concurrent calls for the same token share a
// single fetch.
func (m *Module) SetupSession(ctx context.Context, clientToken string, opts Options) (*Session, error) {
	claims, err := decodeClientToken(clientToken)
	if err != nil {
		return nil, err
	}

	if !opts.ForceRefresh {
		if cached, ok := m.cache.Get(clientToken); ok {
			return cached.(*Session), nil
		}
	} else {
		m.cache.Delete(clientToken)
	}

	v, err, _ := m.group.Do(clientToken, func() (any, error) {
		// Re-check under the flight: a racing call may have populated
		// the cache while this one waited.
		if !opts.ForceRefresh {
			if cached, ok := m.cache.Get(clientToken); ok {
				return cached, nil
			}
		}

		session, err := m.fetch(ctx, claims, opts.Capabilities)
		if err != nil {
			return nil, err
		}

		ttl := time.Until(claims.ExpiresAt)
		if ttl <= 0 || ttl > config.SessionCacheTTL {
			ttl = config.SessionCacheTTL
		}
		m.cache.Set(clientToken, session, ttl)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// configurationResponse is the provider's configuration document.
type configurationResponse struct {
	CoreURL        string                 `json:"coreUrl"`
	PCIURL         string                 `json:"pciUrl"`
	BinDataURL     string                 `json:"binDataUrl"`
	AccountID      string                 `json:"accountId"`
	PaymentMethods []paymentMethodWire    `json:"paymentMethods"`
	ClientSession  map[string]any         `json:"clientSession,omitempty"`
}

type paymentMethodWire struct {
	Type              string   `json:"type"`
	ProcessorConfigID string   `json:"processorConfigId"`
	Name              string   `json:"name"`
	RequiredFields    []string `json:"requiredFields,omitempty"`
	SupportedIntents  []string `json:"supportedIntents,omitempty"`
	Category          string   `json:"category,omitempty"`
}

func (m *Module) fetch(ctx context.Context, claims tokenClaims, caps Capabilities) (*Session, error) {
	headers := http.Header{}
	headers.Set(HeaderClientToken, claims.AccessToken)

	resp, err := m.dispatcher.Send(ctx, dispatch.Request{
		Method:  http.MethodGet,
		URL:     claims.ConfigurationURL,
		Headers: headers,
	}, model.RetryConfig{
		MaxRetries:         config.DefaultMaxRetries,
		RetryNetworkErrors: true,
		Retry500Errors:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching configuration: %w", err)
	}

	var wire configurationResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if len(wire.PaymentMethods) == 0 {
		return nil, ErrMisconfiguredPaymentMethods
	}

	cfg := model.Configuration{
		CoreURL:    wire.CoreURL,
		PCIURL:     wire.PCIURL,
		BinDataURL: wire.BinDataURL,
		AccountID:  wire.AccountID,
	}
	for _, pm := range wire.PaymentMethods {
		desc, ok := toDescriptor(pm)
		if !ok {
			slog.Debug("payment_method_type_unsupported", "type", pm.Type)
			continue
		}
		family, _ := desc.Type.Family()
		if !caps.Enabled(family) {
			slog.Debug("payment_method_capability_missing", "type", pm.Type, "family", string(family))
			continue
		}
		cfg.PaymentMethods = append(cfg.PaymentMethods, desc)
	}

	if len(cfg.PaymentMethods) == 0 {
		return nil, ErrMisconfiguredPaymentMethods
	}

	return &Session{
		Config:      cfg,
		AccessToken: claims.AccessToken,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// toDescriptor maps one wire payment method to a descriptor. Types outside
// the engine's closed set are dropped.
func toDescriptor(pm paymentMethodWire) (model.PaymentMethodDescriptor, bool) {
	t := model.PaymentMethodType(pm.Type)
	family, ok := t.Family()
	if !ok {
		return model.PaymentMethodDescriptor{}, false
	}

	desc := model.PaymentMethodDescriptor{
		Type:              t,
		ProcessorConfigID: pm.ProcessorConfigID,
		DisplayName:       pm.Name,
		Category:          model.ManagerCategory(pm.Category),
	}
	if desc.Category == "" {
		desc.Category = defaultCategory(family)
	}

	for _, f := range pm.RequiredFields {
		desc.RequiredFields = append(desc.RequiredFields, model.FieldKind(f))
	}
	if len(desc.RequiredFields) == 0 {
		desc.RequiredFields = defaultRequiredFields(family)
	}

	for _, i := range pm.SupportedIntents {
		desc.SupportedIntents = append(desc.SupportedIntents, model.Intent(i))
	}
	if len(desc.SupportedIntents) == 0 {
		desc.SupportedIntents = []model.Intent{model.IntentCheckout}
	}

	return desc, true
}

func defaultCategory(family model.MethodFamily) model.ManagerCategory {
	switch family {
	case model.FamilyBankRedirect:
		return model.CategoryRedirect
	case model.FamilyCard:
		return model.CategoryCardComponents
	default:
		return model.CategoryRawData
	}
}

func defaultRequiredFields(family model.MethodFamily) []model.FieldKind {
	switch family {
	case model.FamilyCard:
		return []model.FieldKind{
			model.FieldCardNumber, model.FieldCVV,
			model.FieldExpiryMonth, model.FieldExpiryYear,
			model.FieldCardholderName,
		}
	case model.FamilyBankRedirect:
		return []model.FieldKind{model.FieldBankID}
	case model.FamilyACH:
		return []model.FieldKind{
			model.FieldFirstName, model.FieldLastName, model.FieldEmailAddress,
			model.FieldRoutingNumber, model.FieldAccountNumber,
			model.FieldMandateAccept,
		}
	default:
		return nil
	}
}

// decodeClientToken checks token structure and expiry without verifying the
// signature: the SDK never holds the signing key, so structure plus expiry
// are what gate use.
func decodeClientToken(clientToken string) (tokenClaims, error) {
	if clientToken == "" {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "token is empty"}
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(clientToken, claims); err != nil {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "malformed JWT: " + err.Error()}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "missing expiry claim"}
	}
	if exp.Before(time.Now()) {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "token is expired"}
	}

	configURL, _ := claims["configurationUrl"].(string)
	if configURL == "" {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "missing configurationUrl claim"}
	}
	accessToken, _ := claims["accessToken"].(string)
	if accessToken == "" {
		return tokenClaims{}, &InvalidClientTokenError{Reason: "missing accessToken claim"}
	}

	return tokenClaims{
		ConfigurationURL: configURL,
		AccessToken:      accessToken,
		ExpiresAt:        exp.Time,
	}, nil
}
