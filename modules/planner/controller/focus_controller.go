package controller

import (
	"calendar-sync/core/controller"
	"calendar-sync/core/errors"
	"calendar-sync/core/middleware"
	"calendar-sync/modules/planner/dto"
	"calendar-sync/modules/planner/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type FocusController struct {
	controller.BaseController
	service service.FocusServiceInterface
}

func NewFocusController(service service.FocusServiceInterface) *FocusController {
	return &FocusController{BaseController: controller.NewBaseController(), service: service}
}

// CreateFocusBlock adds a focus block and mirrors it as busy time
// @Summary Create a focus block
// @Tags Focus
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body dto.FocusBlockRequest true "focus block"
// @Success 201 {object} controller.SuccessResponse{data=dto.FocusBlockResponse}
// @Failure 400 {object} controller.ErrorResponse
// @Router /private/focus-blocks [post]
func (c *FocusController) CreateFocusBlock(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	var req dto.FocusBlockRequest
	if err := ctx.Bind(&req); err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidRequestData, "invalid request body", err))
	}
	res, err := c.service.CreateFocusBlock(ctx.Request().Context(), userID, req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.CreatedResponse(ctx, res, "focus block created")
}

// UpdateFocusBlock
// @Summary Move or rename a focus block
// @Tags Focus
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "focus block id"
// @Param body body dto.FocusBlockRequest true "focus block"
// @Success 200 {object} controller.SuccessResponse{data=dto.FocusBlockResponse}
// @Failure 404 {object} controller.ErrorResponse
// @Router /private/focus-blocks/{id} [put]
func (c *FocusController) UpdateFocusBlock(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidInput, "invalid focus block id", err))
	}
	var req dto.FocusBlockRequest
	if err := ctx.Bind(&req); err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidRequestData, "invalid request body", err))
	}
	res, err := c.service.UpdateFocusBlock(ctx.Request().Context(), userID, id, req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, res, "focus block updated")
}

// DeleteFocusBlock
// @Summary Delete a focus block
// @Tags Focus
// @Security BearerAuth
// @Produce json
// @Param id path string true "focus block id"
// @Success 200 {object} controller.SuccessResponse
// @Failure 404 {object} controller.ErrorResponse
// @Router /private/focus-blocks/{id} [delete]
func (c *FocusController) DeleteFocusBlock(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidInput, "invalid focus block id", err))
	}
	if err := c.service.DeleteFocusBlock(ctx.Request().Context(), userID, id); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "focus block deleted")
}
