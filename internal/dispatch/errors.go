package dispatch

import "fmt"

// TransportError is a network-level failure: the request never produced an
// HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a completed HTTP exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// IsServerError reports whether the status is in the 5xx range.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// RetriesExhaustedError is the terminal failure after the retry budget is
// spent. Last is the error from the final attempt.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
