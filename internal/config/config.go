package config

import "time"

const (
	// SDKVersion is reported on every outbound request.
	SDKVersion = "1.4.0"

	// DefaultMaxRetries is the retry budget for retryable requests.
	DefaultMaxRetries = 3

	// BackoffBase is the delay before the first retry.
	BackoffBase = 100 * time.Millisecond

	// BackoffCap bounds any single backoff delay.
	BackoffCap = 5 * time.Second

	// DebounceWindow is how long the BIN lookup waits for typing to settle.
	DebounceWindow = 350 * time.Millisecond

	// BinLookupThreshold is the digit count that arms the remote BIN lookup.
	BinLookupThreshold = 6

	// PollInterval is the delay between resume poll ticks.
	PollInterval = 2 * time.Second

	// PollTimeout bounds a whole resume polling session.
	PollTimeout = 10 * time.Minute

	// SessionCacheTTL is the configuration cache lifetime used when the
	// client token carries no usable expiry.
	SessionCacheTTL = 15 * time.Minute

	// HealthWindowSize caps how many recent request outcomes count toward
	// an endpoint's health score.
	HealthWindowSize = 50

	// HealthWindowDuration expires outcomes from the health window.
	HealthWindowDuration = 10 * time.Minute

	// DegradedThreshold is the health score below which an endpoint is
	// reported degraded.
	DegradedThreshold = 0.80

	// UnreachableThreshold is the health score below which an endpoint is
	// reported unreachable.
	UnreachableThreshold = 0.30

	// ServerPort is the demo server's listen address.
	ServerPort = ":8080"

	// GatewayPort is the mock provider gateway's listen address.
	GatewayPort = ":9090"
)
