package handler

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	"calendar-sync/core/queue"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/token/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type RefreshPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
}

type RefreshHandler struct {
	vault service.VaultInterface
	audit auditService.Recorder
}

func NewRefreshHandler(vault service.VaultInterface, audit auditService.Recorder) *RefreshHandler {
	return &RefreshHandler{vault: vault, audit: audit}
}

func (h *RefreshHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(constants.JobTokenRefresh, h.HandleRefresh)
}

// HandleRefresh renews a token ahead of expiry. Revoked grants are final.
func (h *RefreshHandler) HandleRefresh(ctx context.Context, t *asynq.Task) error {
	var p RefreshPayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}
	// Refreshes only if still inside the buffer; a sync may have beaten us.
	_, err := h.vault.GetValidToken(ctx, p.ConnectionID)

	log := auditEntity.AuditLog{ConnectionID: auditEntity.Ref(p.ConnectionID), Action: auditEntity.ActionTokenRefresh}
	if err != nil {
		log.Status = auditEntity.StatusFailure
		log.Message = err.Error()
	}
	h.audit.Record(ctx, log)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrAuthExpired), errors.Is(err, provider.ErrUnsupported), errors.HasCode(err, errors.ErrNotFound):
		logger.Warn("RefreshHandler:HandleRefresh:Permanent", "connection_id", p.ConnectionID, "error", err)
		return queue.SkipRetry(err)
	}
	return err
}
