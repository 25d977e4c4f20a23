// Package guard wraps provider calls with the shared rate limiter and
// circuit breaker.
package guard

import (
	"context"
	"fmt"
	"time"

	"calendar-sync/core/logger"
	"calendar-sync/modules/circuit"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/ratelimit"

	"github.com/google/uuid"
)

// CircuitOpenError is returned without calling the provider while its
// circuit is open.
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, retry after %s", e.Provider, e.RetryAfter)
}

func (e *CircuitOpenError) RetryAfterDuration() time.Duration {
	return e.RetryAfter
}

type Guard struct {
	limiter ratelimit.Limiter
	breaker circuit.BreakerInterface
	now     func() time.Time
}

func New(limiter ratelimit.Limiter, breaker circuit.BreakerInterface) *Guard {
	return &Guard{limiter: limiter, breaker: breaker, now: time.Now}
}

// Check fails fast when the circuit is open or the caller is over its rate.
// Store errors let the call through.
func (g *Guard) Check(ctx context.Context, providerName string, userID uuid.UUID) error {
	open, err := g.breaker.IsOpen(ctx, providerName)
	if err != nil {
		logger.Warn("Guard:Check:Breaker:Error", "provider", providerName, "error", err)
	}
	if open {
		wait := time.Duration(0)
		if st, err := g.breaker.State(ctx, providerName); err == nil {
			wait = st.NextRetryAt.Sub(g.now())
		}
		return &CircuitOpenError{Provider: providerName, RetryAfter: wait}
	}

	res, err := g.limiter.CheckLimit(ctx, providerName, userID)
	if err != nil {
		logger.Warn("Guard:Check:Limiter:Error", "provider", providerName, "error", err)
		return nil
	}
	if !res.Allowed {
		return &provider.RateLimitedError{Provider: providerName, RetryAfter: res.RetryAfter}
	}
	return nil
}

// Record feeds the outcome of one provider call into the breaker.
func (g *Guard) Record(ctx context.Context, providerName string, callErr error) {
	var err error
	switch {
	case callErr == nil:
		err = g.breaker.RecordSuccess(ctx, providerName)
	case provider.CountsAgainstCircuit(callErr):
		err = g.breaker.RecordFailure(ctx, providerName, callErr)
	}
	if err != nil {
		logger.Warn("Guard:Record:Error", "provider", providerName, "error", err)
	}
}

// Call runs fn after Check, counting it against the rate windows and
// recording its outcome.
func (g *Guard) Call(ctx context.Context, providerName string, userID uuid.UUID, fn func() error) error {
	if err := g.Check(ctx, providerName, userID); err != nil {
		return err
	}
	if err := g.limiter.RecordRequest(ctx, providerName, userID); err != nil {
		logger.Warn("Guard:Call:RecordRequest:Error", "provider", providerName, "error", err)
	}
	err := fn()
	g.Record(ctx, providerName, err)
	return err
}
