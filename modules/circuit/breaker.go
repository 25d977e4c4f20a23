package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"calendar-sync/core/cache"
	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
)

type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half-open"
)

type State struct {
	Status      Status    `json:"status"`
	Failures    int       `json:"failures"`
	NextRetryAt time.Time `json:"next_retry_at"`
	LastError   string    `json:"last_error,omitempty"`
}

type BreakerInterface interface {
	IsOpen(ctx context.Context, providerName string) (bool, error)
	RecordSuccess(ctx context.Context, providerName string) error
	RecordFailure(ctx context.Context, providerName string, cause error) error
	State(ctx context.Context, providerName string) (State, error)
}

// Breaker keeps one state machine per provider in the shared store. The
// open to half-open transition is a plain read-modify-write; concurrent
// callers that observe it together are all let through.
type Breaker struct {
	cache      cache.Cache
	threshold  int
	retryDelay time.Duration
	now        func() time.Time
}

func NewBreaker(c cache.Cache) *Breaker {
	return &Breaker{
		cache:      c,
		threshold:  constants.CircuitFailureThreshold,
		retryDelay: constants.CircuitRetryDelay,
		now:        time.Now,
	}
}

func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func key(providerName string) string {
	return fmt.Sprintf("%s:%s", constants.CircuitKeyPrefix, providerName)
}

func (b *Breaker) State(ctx context.Context, providerName string) (State, error) {
	raw, err := b.cache.Get(ctx, key(providerName))
	if errors.Is(err, cache.ErrCacheMiss) {
		return State{Status: StatusClosed}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logger.Warn("CircuitBreaker:State:Corrupt", "provider", providerName, "error", err)
		return State{Status: StatusClosed}, nil
	}
	return st, nil
}

func (b *Breaker) save(ctx context.Context, providerName string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return b.cache.Set(ctx, key(providerName), string(raw), constants.CircuitStateTTL)
}

// IsOpen reports whether calls to the provider must be skipped. Once the
// retry delay has elapsed the circuit moves to half-open and lets calls through.
func (b *Breaker) IsOpen(ctx context.Context, providerName string) (bool, error) {
	st, err := b.State(ctx, providerName)
	if err != nil {
		return false, err
	}
	if st.Status != StatusOpen {
		return false, nil
	}
	if b.now().Before(st.NextRetryAt) {
		return true, nil
	}
	st.Status = StatusHalfOpen
	if err := b.save(ctx, providerName, st); err != nil {
		return false, err
	}
	logger.Info("CircuitBreaker:HalfOpen", "provider", providerName)
	return false, nil
}

func (b *Breaker) RecordSuccess(ctx context.Context, providerName string) error {
	st, err := b.State(ctx, providerName)
	if err != nil {
		return err
	}
	if st.Status != StatusHalfOpen && st.Failures == 0 {
		return nil
	}
	if st.Status != StatusClosed {
		logger.Info("CircuitBreaker:Closed", "provider", providerName)
	}
	return b.save(ctx, providerName, State{Status: StatusClosed})
}

func (b *Breaker) RecordFailure(ctx context.Context, providerName string, cause error) error {
	st, err := b.State(ctx, providerName)
	if err != nil {
		return err
	}
	st.Failures++
	if cause != nil {
		st.LastError = cause.Error()
	}
	if st.Failures >= b.threshold {
		if st.Status != StatusOpen {
			logger.Warn("CircuitBreaker:Opened", "provider", providerName, "failures", st.Failures, "last_error", st.LastError)
		}
		st.Status = StatusOpen
		st.NextRetryAt = b.now().Add(b.retryDelay)
	}
	return b.save(ctx, providerName, st)
}
