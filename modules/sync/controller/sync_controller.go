package controller

import (
	"calendar-sync/core/controller"
	"calendar-sync/core/errors"
	"calendar-sync/core/middleware"
	"calendar-sync/modules/sync/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type OutboundRequest struct {
	ItemID uuid.UUID              `json:"item_id"`
	Action service.OutboundAction `json:"action"`
}

type SyncController struct {
	controller.BaseController
	service service.SyncServiceInterface
}

func NewSyncController(service service.SyncServiceInterface) *SyncController {
	return &SyncController{BaseController: controller.NewBaseController(), service: service}
}

// PushItem queues a planner item write to one source
// @Summary Queue a planner item write to a source
// @Tags Sync
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "source id"
// @Param body body OutboundRequest true "item and action"
// @Success 200 {object} controller.SuccessResponse
// @Failure 400 {object} controller.ErrorResponse
// @Router /private/sources/{id}/outbound [post]
func (c *SyncController) PushItem(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	sourceID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidInput, "invalid source id", err))
	}
	var req OutboundRequest
	if err := ctx.Bind(&req); err != nil || req.ItemID == uuid.Nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidRequestData, "item_id and action are required", err))
	}
	if err := c.service.RequestOutbound(ctx.Request().Context(), userID, sourceID, req.ItemID, req.Action); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "outbound sync queued")
}
