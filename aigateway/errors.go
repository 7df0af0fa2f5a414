package aigateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// The gateway distinguishes four failure classes so callers can decide what
// to retry, what to fall back on, and what to surface as a provider bug:
//
//   - ConnectionError: the provider was never reached (DNS, refused, breaker open)
//   - TimeoutError: the provider did not answer within the request deadline
//   - ProviderError: the provider answered with a non-2xx status
//   - ParseError: the provider answered 200 with a body we could not decode
//
// Only connection and timeout failures are eligible for provider fallback;
// provider and parse failures would just repeat on the other side.

// ConnectionError indicates the provider could not be reached at all.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ai provider %s unreachable: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates the provider did not respond before the deadline.
type TimeoutError struct {
	Provider string
	Elapsed  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ai provider %s timed out after %s: %v", e.Provider, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProviderError indicates the provider returned a non-success status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider %s returned %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 300))
}

// ParseError indicates a success response whose body could not be decoded.
type ParseError struct {
	Provider string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s response: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// classifyTransportError turns an http.Client error into the typed error the
// caller dispatches on. Deadline and net-timeout failures become
// TimeoutError; everything else is a ConnectionError.
func classifyTransportError(provider string, elapsed time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Elapsed: elapsed, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: provider, Elapsed: elapsed, Err: err}
	}
	return &ConnectionError{Provider: provider, Err: err}
}

// FallbackEligible reports whether a failure justifies retrying against the
// fallback provider.
func FallbackEligible(err error) bool {
	var connErr *ConnectionError
	var toErr *TimeoutError
	return errors.As(err, &connErr) || errors.As(err, &toErr)
}

// ErrorKind returns the metrics label for a gateway error.
func ErrorKind(err error) string {
	var connErr *ConnectionError
	var toErr *TimeoutError
	var provErr *ProviderError
	var parseErr *ParseError
	switch {
	case errors.As(err, &toErr):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &provErr):
		return "provider"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
