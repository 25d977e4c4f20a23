package provider_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"calendar-sync/modules/provider"
)

func TestCountsAgainstCircuit(t *testing.T) {
	badRequest := provider.StatusError(provider.Google, &http.Response{
		StatusCode: http.StatusBadRequest,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("invalid time range")),
	})
	dialFailure := &url.Error{Op: "Get", URL: "https://graph.example", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	cancelled := &url.Error{Op: "Get", URL: "https://graph.example", Err: context.Canceled}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", &provider.UnavailableError{Provider: provider.Google, StatusCode: 503}, true},
		{"rate limited", &provider.RateLimitedError{Provider: provider.Google}, true},
		{"wrapped unavailable", fmt.Errorf("list events: %w", &provider.UnavailableError{Provider: provider.CalDAV}), true},
		{"url dial failure", dialFailure, true},
		{"bare net error", &net.DNSError{Err: "no such host", Name: "caldav.example"}, true},
		{"caller cancelled", cancelled, false},
		{"context cancelled", context.Canceled, false},
		{"bad request status", badRequest, false},
		{"plain error", errors.New("decode body: unexpected EOF"), false},
		{"auth expired", provider.ErrAuthExpired, false},
		{"not found", fmt.Errorf("%w: gone", provider.ErrNotFound), false},
		{"precondition", provider.ErrPreconditionFailed, false},
		{"unsupported", provider.ErrUnsupported, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.CountsAgainstCircuit(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v for %v", tt.want, got, tt.err)
			}
		})
	}
}
