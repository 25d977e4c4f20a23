package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"calendar-sync/core/logger"

	"github.com/hibiken/asynq"
)

// JobOptions maps onto asynq task options. MaxRetry counts retries after the
// first attempt, so MaxRetry 2 means three attempts in total.
type JobOptions struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Unique    time.Duration
	ProcessIn time.Duration
}

type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts JobOptions) error
}

type asynqQueue struct {
	client *asynq.Client
}

func NewAsynqQueue(client *asynq.Client) Queue {
	return &asynqQueue{client: client}
}

func (q *asynqQueue) Enqueue(ctx context.Context, jobType string, payload any, opts JobOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	options := []asynq.Option{asynq.MaxRetry(opts.MaxRetry)}
	if opts.Queue != "" {
		options = append(options, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		options = append(options, asynq.Timeout(opts.Timeout))
	}
	if opts.Unique > 0 {
		options = append(options, asynq.Unique(opts.Unique))
	}
	if opts.ProcessIn > 0 {
		options = append(options, asynq.ProcessIn(opts.ProcessIn))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(jobType, body), options...)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Debug("Queue:Enqueue:Duplicate", "type", jobType, "queue", opts.Queue)
			return nil
		}
		logger.Error("Queue:Enqueue:Error", "type", jobType, "queue", opts.Queue, "error", err)
		return err
	}
	logger.Debug("Queue:Enqueue:Success", "type", jobType, "queue", info.Queue, "id", info.ID)
	return nil
}

// RetryAfterHint is implemented by errors that carry a provider-supplied delay.
type RetryAfterHint interface {
	RetryAfterDuration() time.Duration
}

const (
	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// RetryDelay honors a retry-after hint in the error chain, otherwise backs off
// exponentially from baseRetryDelay.
func RetryDelay(n int, err error, _ *asynq.Task) time.Duration {
	var hint RetryAfterHint
	if errors.As(err, &hint) {
		if d := hint.RetryAfterDuration(); d > 0 {
			return d
		}
	}
	delay := time.Duration(float64(baseRetryDelay) * math.Pow(2, float64(n)))
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// Decode unmarshals a task payload into dest.
func Decode(t *asynq.Task, dest any) error {
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// SkipRetry marks err as permanent so the worker archives the task instead of
// retrying it.
func SkipRetry(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
