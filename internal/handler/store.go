package handler

import (
	"sync"

	"github.com/verdantpay/checkout-engine/internal/checkout"
	"github.com/verdantpay/checkout-engine/internal/model"
)

// FlowRecord accumulates the steps and validation statuses one flow has
// emitted, so HTTP clients can poll progress.
type FlowRecord struct {
	mu       sync.Mutex
	steps    []model.CheckoutStep
	statuses []model.ValidationStatus
}

func (r *FlowRecord) OnStep(step model.CheckoutStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *FlowRecord) OnValidationStatus(status model.ValidationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

// Snapshot returns copies of everything recorded so far.
func (r *FlowRecord) Snapshot() ([]model.CheckoutStep, []model.ValidationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]model.CheckoutStep, len(r.steps))
	copy(steps, r.steps)
	statuses := make([]model.ValidationStatus, len(r.statuses))
	copy(statuses, r.statuses)
	return steps, statuses
}

// ManagedFlow pairs a live flow with its record.
type ManagedFlow struct {
	Flow   *checkout.Flow
	Record *FlowRecord
}

// FlowStore provides thread-safe storage for active flows.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]*ManagedFlow
}

// NewFlowStore creates a new empty flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]*ManagedFlow)}
}

// Save stores a managed flow keyed by its flow ID.
func (s *FlowStore) Save(mf *ManagedFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[mf.Flow.ID()] = mf
}

// Get retrieves a managed flow by ID.
func (s *FlowStore) Get(id string) (*ManagedFlow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mf, ok := s.flows[id]
	return mf, ok
}

// Delete removes a flow from the store.
func (s *FlowStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
}

// Len returns the number of stored flows.
func (s *FlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
