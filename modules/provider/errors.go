package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	ErrUnsupported        = errors.New("provider: operation not supported")
	ErrNotFound           = errors.New("provider: resource not found")
	ErrAuthExpired        = errors.New("provider: authorization expired or revoked")
	ErrPreconditionFailed = errors.New("provider: precondition failed")
	ErrUnknownProvider    = errors.New("provider: unknown provider")

	// ErrCursorExpired never leaves an adapter; adapters recover by
	// refetching the full window.
	ErrCursorExpired = errors.New("provider: sync cursor expired")
)

type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

func (e *RateLimitedError) RetryAfterDuration() time.Duration {
	return e.RetryAfter
}

type UnavailableError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unavailable (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: unavailable (status %d)", e.Provider, e.StatusCode)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

// CountsAgainstCircuit reports whether err reflects provider health rather
// than the state of one connection or resource: outages, throttling and
// transport failures. Anything else, including the caller giving up, does
// not trip the breaker.
func CountsAgainstCircuit(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsUnavailable(err) || IsRateLimited(err) {
		return true
	}
	// *url.Error implements net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}
