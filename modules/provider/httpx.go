package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultRetryAfter = 5 * time.Second
	maxErrorBody      = 4 << 10
)

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// StatusError maps a non-2xx response onto the provider error taxonomy.
// The body is drained but not closed.
func StatusError(providerName string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimited(providerName, resp)
	case resp.StatusCode == http.StatusForbidden && strings.Contains(msg, "ateLimitExceeded"):
		// Google reports quota exhaustion as 403 rateLimitExceeded/userRateLimitExceeded.
		return rateLimited(providerName, resp)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthExpired, msg)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, msg)
	case resp.StatusCode >= 500:
		if resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "" {
			return rateLimited(providerName, resp)
		}
		return &UnavailableError{Provider: providerName, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", providerName, resp.StatusCode, msg)
	}
}

func rateLimited(providerName string, resp *http.Response) error {
	wait := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	if wait <= 0 {
		wait = defaultRetryAfter
	}
	return &RateLimitedError{Provider: providerName, RetryAfter: wait}
}

// TransportError wraps a network failure as unavailability.
func TransportError(providerName string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UnavailableError{Provider: providerName, Err: err}
}

// TokenError maps oauth2 token endpoint failures.
func TokenError(providerName string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
			return fmt.Errorf("%w: %s", ErrAuthExpired, re.ErrorCode)
		}
		if re.Response != nil {
			if re.Response.StatusCode == http.StatusTooManyRequests {
				return rateLimited(providerName, re.Response)
			}
			if re.Response.StatusCode >= 500 {
				return &UnavailableError{Provider: providerName, StatusCode: re.Response.StatusCode, Err: err}
			}
		}
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	return TransportError(providerName, err)
}

// JSONRequest builds a request with an optional JSON body.
func JSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
