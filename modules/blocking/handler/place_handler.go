package handler

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	"calendar-sync/core/queue"
	"calendar-sync/modules/blocking/service"
	"calendar-sync/modules/provider"

	"github.com/hibiken/asynq"
)

type Placer interface {
	Place(ctx context.Context, p service.PlacePayload) error
}

type PlaceHandler struct {
	placer Placer
}

func NewPlaceHandler(placer Placer) *PlaceHandler {
	return &PlaceHandler{placer: placer}
}

func (h *PlaceHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(constants.JobBlockingPlace, h.HandlePlace)
}

// HandlePlace retries through rate windows and outages; the queue's retry
// delay follows the limiter's hint.
func (h *PlaceHandler) HandlePlace(ctx context.Context, t *asynq.Task) error {
	var p service.PlacePayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}
	err := h.placer.Place(ctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrAuthExpired), errors.Is(err, provider.ErrUnsupported):
		logger.Warn("PlaceHandler:HandlePlace:Permanent", "user_id", p.UserID, "source_id", p.TargetSourceID, "error", err)
		return queue.SkipRetry(err)
	}
	return err
}
