package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verdantpay/checkout-engine/internal/checkout"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// batchRequest is the request body for POST /simulate/batch.
type batchRequest struct {
	Count      int    `json:"count"`
	CardNumber string `json:"card_number"`
}

const (
	batchMaxCount    = 1000
	batchConcurrency = 8
	batchFlowTimeout = 30 * time.Second
)

// SimulateBatch handles POST /simulate/batch: it drives full card checkouts
// through the engine concurrently and reports the outcome distribution.
func (h *Handler) SimulateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Count <= 0 || req.Count > batchMaxCount {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", batchMaxCount))
		return
	}
	if h.tokens == nil {
		writeError(w, http.StatusBadRequest, "batch simulation needs a token source")
		return
	}
	cardNumber := req.CardNumber
	if cardNumber == "" {
		cardNumber = "4242424242424242"
	}

	var mu sync.Mutex
	outcomes := make(map[checkout.State]int)

	var group errgroup.Group
	group.SetLimit(batchConcurrency)
	for i := 0; i < req.Count; i++ {
		group.Go(func() error {
			state, err := h.runCardCheckout(cardNumber)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[state]++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		writeError(w, http.StatusBadGateway, "batch simulation aborted: "+err.Error())
		return
	}

	succeeded := outcomes[checkout.StateSuccess]
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        req.Count,
		"succeeded":    succeeded,
		"failed":       outcomes[checkout.StateFailure],
		"success_rate": float64(succeeded) / float64(req.Count),
	})
}

// runCardCheckout drives one card checkout to a terminal state.
func (h *Handler) runCardCheckout(cardNumber string) (checkout.State, error) {
	clientToken, err := h.tokens()
	if err != nil {
		return "", fmt.Errorf("minting client token: %w", err)
	}

	flow, err := h.engine.NewFlow(model.TypePaymentCard, checkout.Delegates{})
	if err != nil {
		return "", err
	}
	flow.Start(clientToken)

	if state := waitForState(flow, checkout.StateDataCollection, batchFlowTimeout); state.IsTerminal() {
		return state, nil
	}

	fields := map[model.FieldKind]string{
		model.FieldCardNumber:     cardNumber,
		model.FieldCVV:            "123",
		model.FieldExpiryMonth:    "12",
		model.FieldExpiryYear:     fmt.Sprintf("%d", time.Now().Year()+3),
		model.FieldCardholderName: "Batch Shopper",
	}
	for field, value := range fields {
		if err := flow.UpdateField(field, value); err != nil {
			flow.Cancel()
			return checkout.StateCancelled, nil
		}
	}

	if err := flow.Submit(); err != nil {
		flow.Cancel()
		return checkout.StateCancelled, nil
	}

	// A gateway decline reopens data collection; treat it as a failed run.
	state := waitForTerminalOrCollection(flow, batchFlowTimeout)
	if state == checkout.StateDataCollection {
		flow.Cancel()
		return checkout.StateFailure, nil
	}
	return state, nil
}

func waitForState(f *checkout.Flow, want checkout.State, timeout time.Duration) checkout.State {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state := f.State()
		if state == want || state.IsTerminal() {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.State()
}

func waitForTerminalOrCollection(f *checkout.Flow, timeout time.Duration) checkout.State {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state := f.State()
		if state.IsTerminal() || state == checkout.StateDataCollection {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.State()
}
