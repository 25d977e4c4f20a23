package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"calendar-sync/core/cache"
	"calendar-sync/core/queue"
	auditEntity "calendar-sync/modules/audit/entity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var ErrDuplicate = errors.New("duplicate key")

// NewCache returns a Cache backed by an in-process redis.
func NewCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewFromClient(client), mr
}

// Clock is a settable time source. With Step set, every reading moves it
// forward, so callers never share a rate window unless a test freezes it.
type Clock struct {
	T    time.Time
	Step time.Duration

	mu sync.Mutex
}

func NewClock(step time.Duration) *Clock {
	return &Clock{T: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), Step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.T
	c.T = c.T.Add(c.Step)
	return now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.T = c.T.Add(d)
}

// Freeze stops automatic stepping.
func (c *Clock) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Step = 0
}

// Job is one captured Enqueue call.
type Job struct {
	Type    string
	Payload any
	Opts    queue.JobOptions
}

// Queue records jobs instead of sending them to redis.
type Queue struct {
	EnqueueErr error

	Jobs []Job

	mu sync.Mutex
}

func (q *Queue) Enqueue(_ context.Context, jobType string, payload any, opts queue.JobOptions) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Jobs = append(q.Jobs, Job{Type: jobType, Payload: payload, Opts: opts})
	return nil
}

// OfType returns captured jobs with the given type, in enqueue order.
func (q *Queue) OfType(jobType string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, j := range q.Jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Jobs = nil
}

// Recorder captures audit rows in memory.
type Recorder struct {
	Logs []auditEntity.AuditLog

	mu sync.Mutex
}

func (r *Recorder) Record(_ context.Context, log auditEntity.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.Status == "" {
		log.Status = auditEntity.StatusSuccess
	}
	r.Logs = append(r.Logs, log)
}

// Find returns the rows with the given action.
func (r *Recorder) Find(action auditEntity.Action) []auditEntity.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auditEntity.AuditLog
	for _, l := range r.Logs {
		if l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

// Last returns the most recent row with the given action.
func (r *Recorder) Last(action auditEntity.Action) (auditEntity.AuditLog, bool) {
	found := r.Find(action)
	if len(found) == 0 {
		return auditEntity.AuditLog{}, false
	}
	return found[len(found)-1], true
}
