package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/dispatch"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

// MetadataSource says where a metadata result came from.
type MetadataSource string

const (
	// SourceRemote is a completed remote BIN lookup.
	SourceRemote MetadataSource = "remote"
	// SourceLocal is the degraded single-network fallback computed from the
	// prefix alone, used below the lookup threshold or on remote failure.
	SourceLocal MetadataSource = "local"
)

// MetadataResult is the card-network metadata for the latest card number.
type MetadataResult struct {
	Prefix   string
	Networks []model.CardNetworkCandidate
	Source   MetadataSource
}

// MetadataObserver receives metadata for the current input. Results for
// superseded inputs are resolved internally and never delivered here.
type MetadataObserver interface {
	OnMetadata(result MetadataResult)
}

// CardMetadataService debounces remote BIN lookups while the user types.
// Rapid keystrokes inside the debounce window coalesce into one remote call
// carrying the latest prefix; a response for a superseded input is discarded
// from the visible stream but still resolved and reported.
type CardMetadataService struct {
	dispatcher  *dispatch.Dispatcher
	reporter    telemetry.Reporter
	observer    MetadataObserver
	binURL      string
	accessToken string
	debounce    time.Duration
	threshold   int

	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
}

// NewCardMetadataService creates a metadata service bound to one session's
// BIN endpoint.
func NewCardMetadataService(dispatcher *dispatch.Dispatcher, binURL, accessToken string, observer MetadataObserver, reporter telemetry.Reporter) *CardMetadataService {
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	return &CardMetadataService{
		dispatcher:  dispatcher,
		reporter:    reporter,
		observer:    observer,
		binURL:      binURL,
		accessToken: accessToken,
		debounce:    config.DebounceWindow,
		threshold:   config.BinLookupThreshold,
	}
}

// SetDebounce overrides the debounce window, for tests.
func (s *CardMetadataService) SetDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounce = d
}

// OnCardNumberChange records a new card number value. Each call supersedes
// any pending lookup; below the digit threshold the local heuristic answers
// and no remote call is scheduled. Results are always delivered off the
// caller's goroutine, so observers may hold their own locks while calling
// this.
func (s *CardMetadataService) OnCardNumberChange(ctx context.Context, cardNumber string) {
	digits := DigitsOnly(cardNumber)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if len(digits) < s.threshold {
		s.mu.Unlock()
		go s.deliver(gen, MetadataResult{
			Prefix:   digits,
			Networks: LocalNetworks(digits),
			Source:   SourceLocal,
		})
		return
	}

	prefix := digits
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.lookup(ctx, gen, prefix)
	})
	s.mu.Unlock()
}

// Stop cancels any pending debounce timer.
func (s *CardMetadataService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// binResponse is the provider's BIN metadata document.
type binResponse struct {
	Networks []model.CardNetworkCandidate `json:"networks"`
}

func (s *CardMetadataService) lookup(ctx context.Context, gen uint64, prefix string) {
	if s.superseded(gen) {
		return
	}

	body, _ := json.Marshal(map[string]string{"binData": prefix})
	headers := http.Header{}
	headers.Set("X-Client-Token", s.accessToken)

	resp, err := s.dispatcher.Send(ctx, dispatch.Request{
		Method:  http.MethodPost,
		URL:     s.binURL,
		Headers: headers,
		Body:    body,
	}, model.RetryConfig{MaxRetries: 2, RetryNetworkErrors: true, Retry500Errors: true})
	if err != nil {
		// Degrade to the local heuristic rather than failing the field.
		s.reporter.Emit(telemetry.Event{Name: "bin_lookup_degraded", Fields: map[string]any{
			"prefix_len": len(prefix),
			"error":      err.Error(),
		}})
		s.deliver(gen, MetadataResult{
			Prefix:   prefix,
			Networks: LocalNetworks(prefix),
			Source:   SourceLocal,
		})
		return
	}

	var wire binResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		s.deliver(gen, MetadataResult{
			Prefix:   prefix,
			Networks: LocalNetworks(prefix),
			Source:   SourceLocal,
		})
		return
	}

	s.deliver(gen, MetadataResult{
		Prefix:   prefix,
		Networks: wire.Networks,
		Source:   SourceRemote,
	})
}

// deliver hands the result to the observer unless a newer input superseded
// it. Superseded results still resolve here; they are reported, not dropped
// silently.
func (s *CardMetadataService) deliver(gen uint64, result MetadataResult) {
	if s.superseded(gen) {
		s.reporter.Emit(telemetry.Event{Name: "bin_lookup_superseded", Fields: map[string]any{
			"prefix_len": len(result.Prefix),
		}})
		return
	}
	if s.observer != nil {
		s.observer.OnMetadata(result)
	}
}

func (s *CardMetadataService) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.generation
}

// LocalNetworks is the offline single-network heuristic keyed on well-known
// BIN ranges.
func LocalNetworks(digits string) []model.CardNetworkCandidate {
	network := detectNetwork(digits)
	if network == "" {
		return nil
	}
	return []model.CardNetworkCandidate{{DisplayName: displayName(network), Value: network}}
}

func detectNetwork(digits string) string {
	switch {
	case len(digits) == 0:
		return ""
	case digits[0] == '4':
		return "VISA"
	case hasPrefixInRange(digits, 51, 55) || hasPrefixInRange4(digits, 2221, 2720):
		return "MASTERCARD"
	case hasAnyPrefix(digits, "34", "37"):
		return "AMEX"
	case hasAnyPrefix(digits, "6011", "65"):
		return "DISCOVER"
	default:
		return ""
	}
}

func displayName(network string) string {
	switch network {
	case "VISA":
		return "Visa"
	case "MASTERCARD":
		return "Mastercard"
	case "AMEX":
		return "American Express"
	case "DISCOVER":
		return "Discover"
	default:
		return network
	}
}

func hasAnyPrefix(digits string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(digits) >= len(p) && digits[:len(p)] == p {
			return true
		}
	}
	return false
}

func hasPrefixInRange(digits string, lo, hi int) bool {
	if len(digits) < 2 {
		return false
	}
	n := int(digits[0]-'0')*10 + int(digits[1]-'0')
	return n >= lo && n <= hi
}

func hasPrefixInRange4(digits string, lo, hi int) bool {
	if len(digits) < 4 {
		return false
	}
	n := 0
	for i := 0; i < 4; i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return n >= lo && n <= hi
}
