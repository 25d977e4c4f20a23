package handler

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/queue"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/webhook/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type RenewPayload struct {
	SourceID uuid.UUID `json:"source_id"`
}

type RenewHandler struct {
	channels service.ChannelServiceInterface
}

func NewRenewHandler(channels service.ChannelServiceInterface) *RenewHandler {
	return &RenewHandler{channels: channels}
}

func (h *RenewHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(constants.JobWebhookRenew, h.HandleRenew)
}

func (h *RenewHandler) HandleRenew(ctx context.Context, t *asynq.Task) error {
	var p RenewPayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}
	err := h.channels.Renew(ctx, p.SourceID)
	if errors.Is(err, provider.ErrAuthExpired) || errors.Is(err, provider.ErrUnsupported) {
		return queue.SkipRetry(err)
	}
	return err
}
