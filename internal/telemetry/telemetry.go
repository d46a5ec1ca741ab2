// Package telemetry is the fire-and-forget observability sink. Reporters must
// never block and their failures are never surfaced to callers.
package telemetry

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one observability event.
type Event struct {
	Name   string
	At     time.Time
	Fields map[string]any
}

// Reporter receives events. Implementations must not block; the engine never
// waits on reporting and never changes behavior based on it.
type Reporter interface {
	Emit(e Event)
}

// SlogReporter logs every event through a structured logger.
type SlogReporter struct {
	logger *slog.Logger
}

// NewSlogReporter creates a reporter over the given logger. A nil logger
// falls back to slog.Default.
func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{logger: logger}
}

func (r *SlogReporter) Emit(e Event) {
	attrs := make([]any, 0, len(e.Fields)*2)
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	r.logger.Info(e.Name, attrs...)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(Event) {}

// Recorder keeps every emitted event in memory for inspection in tests.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// CountByName returns how many recorded events carry the given name.
func (r *Recorder) CountByName(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
