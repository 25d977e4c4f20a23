package handler

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/core/queue"
	"calendar-sync/modules/scheduler/service"

	"github.com/hibiken/asynq"
)

type CleanupHandler struct {
	retention service.RetentionServiceInterface
}

func NewCleanupHandler(retention service.RetentionServiceInterface) *CleanupHandler {
	return &CleanupHandler{retention: retention}
}

func (h *CleanupHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(constants.JobRetentionClean, h.HandleCleanup)
}

// HandleCleanup runs once; tomorrow's run picks up whatever is left.
func (h *CleanupHandler) HandleCleanup(ctx context.Context, _ *asynq.Task) error {
	if _, err := h.retention.Cleanup(ctx); err != nil {
		logger.Error("CleanupHandler:HandleCleanup:Error", "error", err)
		return queue.SkipRetry(err)
	}
	return nil
}
