package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"calendar-sync/core/cache"
	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/modules/provider"

	"github.com/google/uuid"
)

const (
	secondWindow = time.Second
	minuteWindow = time.Minute
	keyTTL       = 2 * time.Minute
)

// Limits are request caps per window. A zero cap disables that check.
type Limits struct {
	AppPerSecond  int
	UserPerSecond int
	AppPerMinute  int
	UserPerMinute int
}

func DefaultLimits() map[string]Limits {
	return map[string]Limits{
		provider.Google:    {AppPerSecond: 10, UserPerSecond: 5},
		provider.Microsoft: {AppPerSecond: 15, UserPerSecond: 10},
		provider.CalDAV:    {AppPerSecond: 2, UserPerSecond: 1},
	}
}

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	CheckLimit(ctx context.Context, providerName string, userID uuid.UUID) (Result, error)
	RecordRequest(ctx context.Context, providerName string, userID uuid.UUID) error
}

// RedisLimiter keeps sliding windows as sorted sets scored by unix millis,
// shared by every instance. Check and record are separate calls, so the cap
// can be overshot by concurrent callers.
type RedisLimiter struct {
	cache  cache.Cache
	limits map[string]Limits
	now    func() time.Time
}

func NewRedisLimiter(c cache.Cache, limits map[string]Limits) *RedisLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RedisLimiter{cache: c, limits: limits, now: time.Now}
}

func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func appKey(providerName string) string {
	return fmt.Sprintf("%s:%s:app", constants.RateLimitKeyPrefix, providerName)
}

func userKey(providerName string, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:user:%s", constants.RateLimitKeyPrefix, providerName, userID)
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

type window struct {
	key       string
	perSecond int
	perMinute int
}

func (l *RedisLimiter) CheckLimit(ctx context.Context, providerName string, userID uuid.UUID) (Result, error) {
	limits, ok := l.limits[providerName]
	if !ok {
		return Result{Allowed: true}, nil
	}
	now := l.now()
	windows := []window{
		{key: userKey(providerName, userID), perSecond: limits.UserPerSecond, perMinute: limits.UserPerMinute},
		{key: appKey(providerName), perSecond: limits.AppPerSecond, perMinute: limits.AppPerMinute},
	}
	for _, w := range windows {
		if err := l.cache.ZRemRangeByScore(ctx, w.key, math.Inf(-1), millis(now.Add(-minuteWindow))); err != nil {
			return Result{}, err
		}
		if w.perSecond > 0 {
			n, err := l.cache.ZCount(ctx, w.key, millis(now.Add(-secondWindow)), math.Inf(1))
			if err != nil {
				return Result{}, err
			}
			if n >= int64(w.perSecond) {
				logger.Debug("RateLimiter:CheckLimit:PerSecondExceeded", "key", w.key, "count", n)
				return Result{Allowed: false, RetryAfter: constants.RateLimitRetryAfter}, nil
			}
		}
		if w.perMinute > 0 {
			n, err := l.cache.ZCount(ctx, w.key, millis(now.Add(-minuteWindow)), math.Inf(1))
			if err != nil {
				return Result{}, err
			}
			if n >= int64(w.perMinute) {
				logger.Debug("RateLimiter:CheckLimit:PerMinuteExceeded", "key", w.key, "count", n)
				return Result{Allowed: false, RetryAfter: constants.RateLimitRetryAfter}, nil
			}
		}
	}
	return Result{Allowed: true}, nil
}

func (l *RedisLimiter) RecordRequest(ctx context.Context, providerName string, userID uuid.UUID) error {
	now := l.now()
	score := millis(now)
	member := strconv.FormatInt(now.UnixNano(), 36) + ":" + uuid.NewString()
	for _, key := range []string{userKey(providerName, userID), appKey(providerName)} {
		if err := l.cache.ZAdd(ctx, key, score, member); err != nil {
			return err
		}
		if err := l.cache.ZRemRangeByScore(ctx, key, math.Inf(-1), millis(now.Add(-minuteWindow))); err != nil {
			return err
		}
		if err := l.cache.Expire(ctx, key, keyTTL); err != nil {
			return err
		}
	}
	return nil
}
