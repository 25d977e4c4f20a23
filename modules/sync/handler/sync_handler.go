package handler

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/queue"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/sync/service"

	"github.com/hibiken/asynq"
)

type SyncHandler struct {
	service service.SyncServiceInterface
}

func NewSyncHandler(service service.SyncServiceInterface) *SyncHandler {
	return &SyncHandler{service: service}
}

func (h *SyncHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(constants.JobSyncInbound, h.HandleInbound)
	mux.HandleFunc(constants.JobSyncOutbound, h.HandleOutbound)
}

func (h *SyncHandler) HandleInbound(ctx context.Context, t *asynq.Task) error {
	var p service.InboundPayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}
	_, err := h.service.PerformSync(ctx, p)
	return classify(err)
}

func (h *SyncHandler) HandleOutbound(ctx context.Context, t *asynq.Task) error {
	var p service.OutboundPayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}
	return classify(h.service.PerformOutboundSync(ctx, p))
}

// classify stops retries for failures another attempt cannot fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrAuthExpired),
		errors.Is(err, provider.ErrUnsupported),
		errors.HasCode(err, errors.ErrValidationFailure),
		errors.HasCode(err, errors.ErrUnsupported):
		return queue.SkipRetry(err)
	}
	return err
}
