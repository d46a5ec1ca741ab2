// Package gateway is a mock provider backend for local development and
// integration testing. It serves the configuration, bank list, tokenization,
// resume, and BIN metadata endpoints the engine consumes, with configurable
// outcome distributions and simulated latency.
package gateway

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/validation"
)

// OutcomeDistribution defines the probability of each tokenization outcome.
// Rates are rolled cumulatively; the remainder is a provider error.
type OutcomeDistribution struct {
	ApprovalRate float64
	DeclineRate  float64
	ErrorRate    float64
}

// Config holds the behavior knobs for one mock gateway instance.
type Config struct {
	Name          string
	AccountID     string
	SigningSecret string
	Banks         []model.Bank

	// PendingPolls is how many resume polls return pending before a
	// redirect or ACH payment settles.
	PendingPolls int

	// RequireChallenge makes redirect payments demand one 3DS handoff
	// before settling.
	RequireChallenge bool

	Outcomes   OutcomeDistribution
	MinLatency time.Duration
	MaxLatency time.Duration
}

// paymentState tracks one asynchronous payment between tokenization and its
// final resume verdict.
type paymentState struct {
	remaining   int
	final       string
	challengeAt int
	challenged  bool
	redirectURL string
}

// Gateway simulates the provider backend with configurable behavior.
type Gateway struct {
	cfg     Config
	baseURL string

	mu       sync.Mutex
	rng      *rand.Rand
	degraded bool
	payments map[string]*paymentState
}

// New creates a gateway from the given config.
func New(cfg Config) *Gateway {
	if cfg.Name == "" {
		cfg.Name = "mock-gateway"
	}
	return &Gateway{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		payments: make(map[string]*paymentState),
	}
}

// Name returns the gateway's identifier.
func (g *Gateway) Name() string { return g.cfg.Name }

// SetBaseURL records the externally reachable base URL. The configuration
// endpoint embeds it, so it must be set before the first session fetch.
func (g *Gateway) SetBaseURL(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseURL = strings.TrimRight(url, "/")
}

// SetDegraded toggles degraded mode (80% provider error) for simulation.
func (g *Gateway) SetDegraded(degraded bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.degraded = degraded
}

// IsDegraded returns the current degraded state.
func (g *Gateway) IsDegraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}

// Router returns the gateway's route set.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/client-session", g.handleConfiguration).Methods(http.MethodGet)
	r.HandleFunc("/banks/{processorConfigId}", g.handleBanks).Methods(http.MethodGet)
	r.HandleFunc("/payment-instruments", g.handleTokenize).Methods(http.MethodPost)
	r.HandleFunc("/resume/{token}", g.handleResume).Methods(http.MethodGet)
	r.HandleFunc("/bin-metadata", g.handleBinLookup).Methods(http.MethodPost)
	return r
}

func (g *Gateway) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	base := g.baseURL
	g.mu.Unlock()
	if base == "" {
		// Fall back to the request host when nobody set the public URL.
		base = "http://" + r.Host
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"coreUrl":    base,
		"pciUrl":     base,
		"binDataUrl": base + "/bin-metadata",
		"accountId":  g.cfg.AccountID,
		"paymentMethods": []map[string]any{
			{
				"type":              string(model.TypePaymentCard),
				"processorConfigId": "mock_card",
				"name":              "Card",
				"supportedIntents":  []string{"checkout", "vault"},
			},
			{
				"type":              string(model.TypeAdyenIDeal),
				"processorConfigId": "mock_ideal",
				"name":              "iDEAL",
			},
			{
				"type":              string(model.TypeStripeACH),
				"processorConfigId": "mock_ach",
				"name":              "ACH Direct Debit",
			},
		},
	})
}

func (g *Gateway) handleBanks(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		return
	}
	_ = mux.Vars(r)["processorConfigId"]

	type bankWire struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IconURL  string `json:"iconUrl,omitempty"`
		Disabled bool   `json:"disabled,omitempty"`
	}
	result := make([]bankWire, 0, len(g.cfg.Banks))
	for _, b := range g.cfg.Banks {
		result = append(result, bankWire{ID: b.ID, Name: b.Name, IconURL: b.IconURL, Disabled: b.Disabled})
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// tokenizeRequest mirrors the engine's tokenization body.
type tokenizeRequest struct {
	PaymentInstrument map[string]any `json:"paymentInstrument"`
	TokenType         string         `json:"tokenType"`
}

func (g *Gateway) handleTokenize(w http.ResponseWriter, r *http.Request) {
	if !g.bearerAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		return
	}

	var req tokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if len(req.PaymentInstrument) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "paymentInstrument is required")
		return
	}

	if !g.simulateLatency(r) {
		return
	}

	switch g.determineOutcome(req.PaymentInstrument) {
	case outcomeDecline:
		writeError(w, http.StatusPaymentRequired, "PAYMENT_METHOD_DECLINED", "The payment method was declined by the provider.")
		return
	case outcomeError:
		writeError(w, http.StatusInternalServerError, "PROVIDER_ERROR", "internal provider error")
		return
	}

	token := "tok_" + uuid.NewString()
	instrumentType := "PAYMENT_CARD"
	data := map[string]any{}

	switch {
	case req.PaymentInstrument["type"] == "OFF_SESSION_PAYMENT":
		instrumentType = "OFF_SESSION_PAYMENT"
		state := g.newPaymentState(token)
		data["redirectUrl"] = state.redirectURL
	case req.PaymentInstrument["bankAccount"] != nil:
		instrumentType = "ACH_DEBIT"
		g.newPaymentState(token)
	default:
		if number, ok := req.PaymentInstrument["number"].(string); ok {
			if networks := validation.LocalNetworks(number); len(networks) > 0 {
				data["network"] = networks[0].Value
			}
			if len(number) >= 4 {
				data["last4Digits"] = number[len(number)-4:]
			}
		}
	}

	slog.Info("gateway_tokenized",
		"gateway", g.cfg.Name,
		"token", token,
		"instrument_type", instrumentType,
		"token_type", req.TokenType,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":                 token,
		"paymentInstrumentType": instrumentType,
		"paymentInstrumentData": data,
	})
}

func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		return
	}
	token := mux.Vars(r)["token"]

	g.mu.Lock()
	state, ok := g.payments[token]
	if !ok {
		g.mu.Unlock()
		writeError(w, http.StatusNotFound, "UNKNOWN_TOKEN", "no pending payment for token "+token)
		return
	}

	if state.remaining > 0 {
		state.remaining--
		g.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	}
	if g.cfg.RequireChallenge && !state.challenged {
		state.challenged = true
		state.remaining = state.challengeAt
		challengeURL := g.baseURL + "/challenge/" + token
		g.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "requires_action",
			"requiredAction": map[string]any{
				"name":         "3DS_AUTHENTICATION",
				"redirect_url": challengeURL,
			},
		})
		return
	}
	final := state.final
	delete(g.payments, token)
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": final})
}

// binLookupRequest mirrors the engine's BIN metadata body.
type binLookupRequest struct {
	BinData string `json:"binData"`
}

func (g *Gateway) handleBinLookup(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		return
	}

	var req binLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"networks": validation.LocalNetworks(req.BinData),
	})
}

// ScriptOutcome forces the final resume status for one token. Unknown tokens
// are registered so the script also covers not-yet-tokenized flows in tests.
func (g *Gateway) ScriptOutcome(token, final string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.payments[token]
	if !ok {
		state = &paymentState{remaining: g.cfg.PendingPolls}
		g.payments[token] = state
	}
	state.final = final
}

type tokenizeOutcome int

const (
	outcomeApprove tokenizeOutcome = iota
	outcomeDecline
	outcomeError
)

// Magic sandbox values force deterministic outcomes regardless of the
// configured distribution.
const (
	DecliningCardNumber = "4000000000000002"
	ErroringCardNumber  = "4000000000000119"
)

func (g *Gateway) determineOutcome(instrument map[string]any) tokenizeOutcome {
	if number, ok := instrument["number"].(string); ok {
		switch number {
		case DecliningCardNumber:
			return outcomeDecline
		case ErroringCardNumber:
			return outcomeError
		}
	}

	g.mu.Lock()
	degraded := g.degraded
	roll := g.rng.Float64()
	g.mu.Unlock()

	if degraded {
		// In degraded mode: 80% provider error, 20% approval.
		if roll < 0.80 {
			return outcomeError
		}
		return outcomeApprove
	}

	dist := g.cfg.Outcomes
	if dist.ApprovalRate == 0 && dist.DeclineRate == 0 && dist.ErrorRate == 0 {
		return outcomeApprove
	}
	if roll < dist.ApprovalRate {
		return outcomeApprove
	}
	roll -= dist.ApprovalRate
	if roll < dist.DeclineRate {
		return outcomeDecline
	}
	return outcomeError
}

func (g *Gateway) newPaymentState(token string) *paymentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := &paymentState{
		remaining:   g.cfg.PendingPolls,
		final:       "success",
		challengeAt: g.cfg.PendingPolls,
		redirectURL: g.baseURL + "/redirect/" + token,
	}
	g.payments[token] = state
	return state
}

// simulateLatency sleeps within the configured window, bailing out early if
// the caller went away. Returns false when the request was abandoned.
func (g *Gateway) simulateLatency(r *http.Request) bool {
	g.mu.Lock()
	min, max := g.cfg.MinLatency, g.cfg.MaxLatency
	var jitter time.Duration
	if max > min {
		jitter = time.Duration(g.rng.Int63n(int64(max - min)))
	}
	g.mu.Unlock()
	if min+jitter <= 0 {
		return true
	}
	select {
	case <-time.After(min + jitter):
		return true
	case <-r.Context().Done():
		return false
	}
}

func (g *Gateway) authorized(r *http.Request) bool {
	return r.Header.Get("X-Client-Token") != ""
}

func (g *Gateway) bearerAuthorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":          code,
			"description":   description,
			"diagnosticsId": uuid.NewString(),
		},
	})
}
