package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"calendar-sync/core/cache"
	"calendar-sync/core/config"
	"calendar-sync/core/constants"
	"calendar-sync/core/database"
	"calendar-sync/core/logger"
	"calendar-sync/core/middleware"
	"calendar-sync/core/queue"
	auditRepository "calendar-sync/modules/audit/repository"
	auditService "calendar-sync/modules/audit/service"
	blockingHandler "calendar-sync/modules/blocking/handler"
	blockingService "calendar-sync/modules/blocking/service"
	"calendar-sync/modules/circuit"
	"calendar-sync/modules/connection"
	connRepository "calendar-sync/modules/connection/repository"
	connService "calendar-sync/modules/connection/service"
	"calendar-sync/modules/planner"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/provider/caldav"
	"calendar-sync/modules/provider/google"
	"calendar-sync/modules/provider/microsoft"
	"calendar-sync/modules/ratelimit"
	"calendar-sync/modules/scheduler"
	syncModule "calendar-sync/modules/sync"
	"calendar-sync/modules/sync/guard"
	syncRepository "calendar-sync/modules/sync/repository"
	syncService "calendar-sync/modules/sync/service"
	"calendar-sync/modules/token"
	"calendar-sync/modules/webhook"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// Queue weights; webhook-triggered work runs at elevated priority.
var queueWeights = map[string]int{
	constants.QueueWebhooks:      6,
	constants.QueueTokenRefresh:  5,
	constants.QueueOutbound:      4,
	constants.QueueSyncGoogle:    3,
	constants.QueueSyncMicrosoft: 3,
	constants.QueueSyncCalDAV:    3,
	constants.QueueMaintenance:   1,
}

// rateLimits overlays configured caps on the per-provider defaults.
func rateLimits(cfg config.RateLimitConfig) map[string]ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	for name, l := range map[string]config.ProviderLimits{
		provider.Google:    cfg.Google,
		provider.Microsoft: cfg.Microsoft,
		provider.CalDAV:    cfg.CalDAV,
	} {
		cur := limits[name]
		if l.AppPerSecond > 0 {
			cur.AppPerSecond = l.AppPerSecond
		}
		if l.UserPerSecond > 0 {
			cur.UserPerSecond = l.UserPerSecond
		}
		if l.AppPerMinute > 0 {
			cur.AppPerMinute = l.AppPerMinute
		}
		if l.UserPerMinute > 0 {
			cur.UserPerMinute = l.UserPerMinute
		}
		limits[name] = cur
	}
	return limits
}

func newRegistry(ctx context.Context, cfg *config.Config) *provider.Registry {
	googleCfg := google.Config{
		ClientID:     cfg.GoogleAPI.ClientID,
		ClientSecret: cfg.GoogleAPI.ClientSecret,
	}
	if cfg.GoogleAPI.ClientID != "" {
		verifier, err := google.NewVerifier(ctx, cfg.GoogleAPI.ClientID)
		if err != nil {
			logger.Warn("Server:NewRegistry:GoogleVerifier:Error", "error", err)
		} else {
			googleCfg.Verifier = verifier
		}
	}
	return provider.NewRegistry(
		google.New(googleCfg),
		microsoft.New(microsoft.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			Tenant:       cfg.Microsoft.Tenant,
		}),
		caldav.New(caldav.Config{}),
	)
}

// Run starts the HTTP API, the job worker and, when enabled, the scheduler,
// then blocks until SIGINT or SIGTERM.
// mountDocs serves the OpenAPI description registered by the docs package.
func mountDocs(e *echo.Echo) {
	e.GET("/swagger/*", echoSwagger.WrapHandler)
}

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(database.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	store, redisClient, err := cache.NewRedisCache(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url for queue: %w", err)
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	jobs := queue.NewAsynqQueue(asynqClient)
	mux := asynq.NewServeMux()

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	mountDocs(e)
	mw := middleware.NewMiddleware(cfg.Security.JWTSecret)

	registry := newRegistry(ctx, cfg)

	auditLogs := auditRepository.NewAuditRepository(db)
	audit := auditService.NewAuditService(auditLogs)
	conns := connRepository.NewConnectionRepository(db)
	sources := connRepository.NewSourceRepository(db)
	mappings := syncRepository.NewMappingRepository(db)
	conflicts := syncRepository.NewConflictRepository(db)

	vault, err := token.Init(db, mux, conns, registry, cfg.Security.TokenEncryptionKey, audit)
	if err != nil {
		return fmt.Errorf("init token vault: %w", err)
	}
	g := guard.New(ratelimit.NewRedisLimiter(store, rateLimits(cfg.RateLimit)), circuit.NewBreaker(store))
	dispatcher := syncService.NewDispatcher(jobs)

	blocking := blockingService.NewBlockingService(sources, conns, mappings, vault, registry, g, audit)
	plannerService := planner.Init(e, db, mw, blocking, blocking)
	blocking.WithDeferral(jobs, plannerService)
	blockingHandler.NewPlaceHandler(blocking).Register(mux)

	syncModule.Init(e, mw, mux, syncService.Deps{
		Connections: conns,
		Sources:     sources,
		Mappings:    mappings,
		Conflicts:   conflicts,
		Planner:     plannerService,
		Credentials: vault,
		Registry:    registry,
		Guard:       g,
		Blocking:    blocking,
		Dispatcher:  dispatcher,
		Audit:       audit,
	})

	hooks, err := webhook.Init(e, mux, webhook.Deps{
		Sources:     sources,
		Connections: conns,
		Credentials: vault,
		Registry:    registry,
		Guard:       g,
		Cache:       store,
		Dispatcher:  dispatcher,
		Audit:       audit,
		BaseURL:     cfg.Webhook.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("init webhooks: %w", err)
	}

	connection.Init(e, mw, connService.Deps{
		Connections: conns,
		Sources:     sources,
		Tokens:      vault,
		Registry:    registry,
		Channels:    hooks.Channels,
		Dispatcher:  dispatcher,
		Blocking:    blocking,
		Planner:     plannerService,
		Audit:       audit,
	}, connService.Options{
		StateSecret: cfg.Security.StateSecret,
		RedirectURLs: map[string]string{
			provider.Google:    cfg.GoogleAPI.RedirectURI,
			provider.Microsoft: cfg.Microsoft.RedirectURI,
		},
	})

	sched := scheduler.Init(mux, cfg, scheduler.Deps{
		Tokens:     vault,
		Sources:    sources,
		Registry:   registry,
		Dispatcher: dispatcher,
		Queue:      jobs,
		AuditLogs:  auditLogs,
		Conflicts:  conflicts,
		Audit:      audit,
	})

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Worker.Concurrency,
		Queues:         queueWeights,
		RetryDelayFunc: queue.RetryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("Worker:Task:Error", "type", t.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
		ShutdownTimeout: constants.ShutdownTimeout,
	})
	if err := worker.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	if cfg.Worker.SchedulerEnabled {
		if err := sched.Start(); err != nil {
			worker.Shutdown()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Info("Server starting", "addr", addr, "env", cfg.App.Env)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Server shutting down")
	case err = <-errCh:
		logger.Error("Server:Start:Error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Error("Server:Shutdown:Error", "error", serr)
	}
	sched.Stop()
	worker.Shutdown()
	waitAll(shutdownCtx, hooks.Controller.Wait, blocking.Wait)
	return err
}

// waitAll waits for detached background work or gives up when ctx expires.
func waitAll(ctx context.Context, waits ...func()) {
	done := make(chan struct{})
	go func() {
		for _, w := range waits {
			w()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Server:Shutdown:BackgroundWorkAbandoned", "timeout", constants.ShutdownTimeout.String())
	}
}
