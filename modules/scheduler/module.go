package scheduler

import (
	"calendar-sync/core/config"
	"calendar-sync/core/queue"
	auditRepository "calendar-sync/modules/audit/repository"
	auditService "calendar-sync/modules/audit/service"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/scheduler/handler"
	"calendar-sync/modules/scheduler/service"
	syncService "calendar-sync/modules/sync/service"

	"github.com/hibiken/asynq"
)

type Deps struct {
	Tokens     service.TokenLister
	Sources    service.SourceLister
	Registry   *provider.Registry
	Dispatcher syncService.DispatcherInterface
	Queue      queue.Queue
	AuditLogs  auditRepository.AuditRepository
	Conflicts  service.ConflictPurger
	Audit      auditService.Recorder
}

// Init registers the cleanup job handler on every worker and returns the
// cron scheduler; the caller decides whether this instance starts it.
func Init(mux *asynq.ServeMux, cfg *config.Config, d Deps) *service.Scheduler {
	var archiver service.Archiver
	if a := service.NewS3Archiver(cfg.Archive); a != nil {
		archiver = a
	}
	retention := service.NewRetentionService(d.AuditLogs, d.Conflicts, archiver, d.Audit, cfg.Retention.AuditLogDays, cfg.App.Name)
	handler.NewCleanupHandler(retention).Register(mux)

	return service.NewScheduler(d.Tokens, d.Sources, d.Registry, d.Dispatcher, d.Queue)
}
