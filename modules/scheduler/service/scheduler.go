package service

import (
	"context"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/core/queue"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	syncService "calendar-sync/modules/sync/service"
	tokenHandler "calendar-sync/modules/token/handler"
	webhookHandler "calendar-sync/modules/webhook/handler"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Specs for the periodic tasks, in robfig/cron descriptor syntax.
const (
	SpecTokenRefresh = "@every 15m"
	SpecWebhookRenew = "@hourly"
	SpecPoll         = "@every 10m"
	SpecSafetyNet    = "@every 30m"
	SpecCleanup      = "@daily"
)

type TokenLister interface {
	ListExpiring(ctx context.Context, within time.Duration) ([]uuid.UUID, error)
}

type SourceLister interface {
	ListPollable(ctx context.Context, providers []string) ([]connEntity.SourceWithProvider, error)
	ListStale(ctx context.Context, providers []string, now time.Time) ([]connEntity.SourceWithProvider, error)
	ListWebhookDue(ctx context.Context, providers []string, before time.Time) ([]connEntity.SourceWithProvider, error)
}

// Scheduler only enqueues. Every task is a unique job so several instances
// can run the same schedule without doubling the work.
type Scheduler struct {
	tokens     TokenLister
	sources    SourceLister
	registry   *provider.Registry
	dispatcher syncService.DispatcherInterface
	queue      queue.Queue
	cron       *cron.Cron
	now        func() time.Time
}

func NewScheduler(tokens TokenLister, sources SourceLister, registry *provider.Registry,
	dispatcher syncService.DispatcherInterface, q queue.Queue) *Scheduler {
	return &Scheduler{
		tokens:     tokens,
		sources:    sources,
		registry:   registry,
		dispatcher: dispatcher,
		queue:      q,
		now:        time.Now,
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

type task struct {
	name string
	spec string
	run  func(ctx context.Context) (int, error)
}

func (s *Scheduler) tasks() []task {
	return []task{
		{"token-refresh", SpecTokenRefresh, s.RefreshTokens},
		{"webhook-renew", SpecWebhookRenew, s.RenewWebhooks},
		{"poll", SpecPoll, s.PollSources},
		{"safety-net", SpecSafetyNet, s.SafetyNet},
		{"cleanup", SpecCleanup, s.EnqueueCleanup},
	}
}

// Start registers the periodic tasks and starts the cron runner.
func (s *Scheduler) Start() error {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, t := range s.tasks() {
		t := t
		if _, err := c.AddFunc(t.spec, func() { s.runTask(t) }); err != nil {
			return err
		}
	}
	s.cron = c
	c.Start()
	logger.Info("Scheduler:Started", "tasks", len(s.tasks()))
	return nil
}

// Stop waits for running tasks to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runTask(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
	defer cancel()
	n, err := t.run(ctx)
	if err != nil {
		logger.Error("Scheduler:"+t.name+":Error", "enqueued", n, "error", err)
		return
	}
	logger.Debug("Scheduler:"+t.name+":Done", "enqueued", n)
}

// RefreshTokens queues a refresh for every token expiring within the buffer.
func (s *Scheduler) RefreshTokens(ctx context.Context) (int, error) {
	ids, err := s.tokens.ListExpiring(ctx, constants.TokenRefreshBuffer)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		err := s.queue.Enqueue(ctx, constants.JobTokenRefresh, tokenHandler.RefreshPayload{ConnectionID: id}, queue.JobOptions{
			Queue:    constants.QueueTokenRefresh,
			MaxRetry: constants.TokenRefreshMaxRetry,
			Timeout:  constants.DefaultRequestTimeout,
			Unique:   constants.ScheduledJobUnique,
		})
		if err != nil {
			logger.Error("Scheduler:RefreshTokens:Enqueue:Error", "connection_id", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// RenewWebhooks queues renewal for channels that are missing or expire
// within the renew window.
func (s *Scheduler) RenewWebhooks(ctx context.Context) (int, error) {
	providers := s.registry.WebhookCapable()
	if len(providers) == 0 {
		return 0, nil
	}
	due, err := s.sources.ListWebhookDue(ctx, providers, s.now().UTC().Add(constants.WebhookRenewWindow))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, src := range due {
		err := s.queue.Enqueue(ctx, constants.JobWebhookRenew, webhookHandler.RenewPayload{SourceID: src.ID}, queue.JobOptions{
			Queue:    constants.QueueWebhooks,
			MaxRetry: constants.WebhookRenewMaxRetry,
			Timeout:  constants.DefaultRequestTimeout,
			Unique:   constants.ScheduledJobUnique,
		})
		if err != nil {
			logger.Error("Scheduler:RenewWebhooks:Enqueue:Error", "source_id", src.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// PollSources queues a sync for every readable source of a provider without
// push notifications.
func (s *Scheduler) PollSources(ctx context.Context) (int, error) {
	providers := s.registry.PollOnly()
	if len(providers) == 0 {
		return 0, nil
	}
	sources, err := s.sources.ListPollable(ctx, providers)
	if err != nil {
		return 0, err
	}
	return s.enqueueSyncs(ctx, sources, syncService.TriggerPoll), nil
}

// SafetyNet catches webhook-capable sources whose notifications stopped
// arriving: anything not synced within its connection's interval.
func (s *Scheduler) SafetyNet(ctx context.Context) (int, error) {
	providers := s.registry.WebhookCapable()
	if len(providers) == 0 {
		return 0, nil
	}
	stale, err := s.sources.ListStale(ctx, providers, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return s.enqueueSyncs(ctx, stale, syncService.TriggerSafetyNet), nil
}

func (s *Scheduler) enqueueSyncs(ctx context.Context, sources []connEntity.SourceWithProvider, trigger syncService.Trigger) int {
	n := 0
	for _, src := range sources {
		err := s.dispatcher.EnqueueInbound(ctx, src.Provider, syncService.InboundPayload{
			ConnectionID: src.ConnectionID,
			SourceID:     src.ID,
			Trigger:      trigger,
		})
		if err != nil {
			logger.Error("Scheduler:EnqueueSync:Error", "source_id", src.ID, "trigger", trigger, "error", err)
			continue
		}
		n++
	}
	return n
}

// EnqueueCleanup queues the daily retention job. It runs once with no retry.
func (s *Scheduler) EnqueueCleanup(ctx context.Context) (int, error) {
	err := s.queue.Enqueue(ctx, constants.JobRetentionClean, struct{}{}, queue.JobOptions{
		Queue:    constants.QueueMaintenance,
		MaxRetry: constants.CleanupMaxRetry,
		Timeout:  constants.SyncJobTimeout,
		Unique:   time.Hour,
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}
