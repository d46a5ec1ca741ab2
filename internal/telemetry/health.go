package telemetry

import (
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/verdantpay/checkout-engine/internal/config"
)

// HealthStatus grades an endpoint's recent behavior.
type HealthStatus string

const (
	StatusHealthy     HealthStatus = "healthy"
	StatusDegraded    HealthStatus = "degraded"
	StatusUnreachable HealthStatus = "unreachable"
)

// EndpointHealth is the current health information for one endpoint host.
type EndpointHealth struct {
	Host           string       `json:"host"`
	HealthScore    float64      `json:"health_score"`
	Status         HealthStatus `json:"status"`
	TotalRecent    int          `json:"total_recent"`
	SucceededCount int          `json:"succeeded_count"`
	FailedCount    int          `json:"failed_count"`
	LastUpdated    time.Time    `json:"last_updated"`
}

// requestOutcome records a single request outcome against one host.
type requestOutcome struct {
	succeeded bool
	timestamp time.Time
}

// EndpointTracker derives per-host health from dispatch events over a
// sliding window. It implements Reporter, so it can sit in a Fanout next to
// the logging reporter.
type EndpointTracker struct {
	mu             sync.RWMutex
	windows        map[string][]requestOutcome
	windowSize     int
	windowDuration time.Duration
}

// NewEndpointTracker creates a tracker with the default window.
func NewEndpointTracker() *EndpointTracker {
	return NewEndpointTrackerWithConfig(config.HealthWindowSize, config.HealthWindowDuration)
}

// NewEndpointTrackerWithConfig creates a tracker with a custom window for
// testing.
func NewEndpointTrackerWithConfig(windowSize int, windowDuration time.Duration) *EndpointTracker {
	return &EndpointTracker{
		windows:        make(map[string][]requestOutcome),
		windowSize:     windowSize,
		windowDuration: windowDuration,
	}
}

// Emit consumes dispatch events. Retries and terminal failures count
// against the host; only completed requests count for it.
func (t *EndpointTracker) Emit(e Event) {
	var succeeded bool
	switch e.Name {
	case "request_succeeded":
		succeeded = true
	case "request_retry", "request_failed":
		succeeded = false
	default:
		return
	}

	rawURL, _ := e.Fields["url"].(string)
	host := hostOf(rawURL)
	if host == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows[host] = append(t.windows[host], requestOutcome{
		succeeded: succeeded,
		timestamp: time.Now(),
	})
	t.pruneWindow(host)
}

// Health returns the current health information for one host.
func (t *EndpointTracker) Health(host string) EndpointHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	window := t.activeWindow(host)
	if len(window) == 0 {
		// Unknown hosts default to healthy.
		return EndpointHealth{
			Host:        host,
			HealthScore: 1.0,
			Status:      StatusHealthy,
			LastUpdated: time.Now(),
		}
	}

	succeeded := 0
	for _, o := range window {
		if o.succeeded {
			succeeded++
		}
	}

	total := len(window)
	score := float64(succeeded) / float64(total)

	status := StatusHealthy
	if score < config.UnreachableThreshold {
		status = StatusUnreachable
	} else if score < config.DegradedThreshold {
		status = StatusDegraded
	}

	return EndpointHealth{
		Host:           host,
		HealthScore:    score,
		Status:         status,
		TotalRecent:    total,
		SucceededCount: succeeded,
		FailedCount:    total - succeeded,
		LastUpdated:    time.Now(),
	}
}

// Snapshot returns health information for every tracked host, sorted by
// host name.
func (t *EndpointTracker) Snapshot() []EndpointHealth {
	t.mu.RLock()
	hosts := make([]string, 0, len(t.windows))
	for host := range t.windows {
		hosts = append(hosts, host)
	}
	t.mu.RUnlock()
	sort.Strings(hosts)

	healths := make([]EndpointHealth, 0, len(hosts))
	for _, host := range hosts {
		healths = append(healths, t.Health(host))
	}
	return healths
}

// activeWindow returns outcomes within the time window, called under read
// lock.
func (t *EndpointTracker) activeWindow(host string) []requestOutcome {
	window := t.windows[host]
	if len(window) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-t.windowDuration)
	active := make([]requestOutcome, 0, len(window))
	for _, o := range window {
		if o.timestamp.After(cutoff) {
			active = append(active, o)
		}
	}
	if len(active) > t.windowSize {
		active = active[len(active)-t.windowSize:]
	}
	return active
}

// pruneWindow removes expired outcomes, called under write lock.
func (t *EndpointTracker) pruneWindow(host string) {
	cutoff := time.Now().Add(-t.windowDuration)
	window := t.windows[host]

	pruned := make([]requestOutcome, 0, len(window))
	for _, o := range window {
		if o.timestamp.After(cutoff) {
			pruned = append(pruned, o)
		}
	}
	if len(pruned) > t.windowSize {
		pruned = pruned[len(pruned)-t.windowSize:]
	}
	t.windows[host] = pruned
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Fanout delivers every event to each wrapped reporter.
type Fanout []Reporter

func (f Fanout) Emit(e Event) {
	for _, r := range f {
		r.Emit(e)
	}
}
