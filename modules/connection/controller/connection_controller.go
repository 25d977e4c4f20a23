package controller

import (
	"calendar-sync/core/controller"
	"calendar-sync/core/errors"
	"calendar-sync/core/middleware"
	"calendar-sync/modules/connection/dto"
	"calendar-sync/modules/connection/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type ConnectionController struct {
	controller.BaseController
	service service.ConnectionServiceInterface
}

func NewConnectionController(service service.ConnectionServiceInterface) *ConnectionController {
	return &ConnectionController{
		BaseController: controller.NewBaseController(),
		service:        service,
	}
}

func paramID(ctx echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.ErrInvalidInput, "invalid "+name, err)
	}
	return id, nil
}

// BeginOAuth returns the provider consent URL
// @Summary Start OAuth for a provider
// @Tags Connection
// @Security BearerAuth
// @Produce json
// @Param provider path string true "google or microsoft"
// @Success 201 {object} controller.SuccessResponse{data=dto.AuthURLResponse}
// @Failure 400 {object} controller.ErrorResponse
// @Router /private/connections/{provider}/authorize [post]
func (c *ConnectionController) BeginOAuth(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	res, err := c.service.BeginOAuth(ctx.Request().Context(), userID, ctx.Param("provider"))
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.CreatedResponse(ctx, res, "authorization started")
}

// OAuthCallback is hit by the provider redirect; the signed state identifies the user
// @Summary OAuth redirect target
// @Tags Connection
// @Produce json
// @Param provider path string true "google or microsoft"
// @Param state query string true "signed state"
// @Param code query string false "authorization code"
// @Param error query string false "provider error"
// @Success 200 {object} controller.SuccessResponse
// @Failure 401 {object} controller.ErrorResponse
// @Router /oauth/{provider}/callback [get]
func (c *ConnectionController) OAuthCallback(ctx echo.Context) error {
	if msg := ctx.QueryParam("error"); msg != "" {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrUnauthorized, "authorization denied: "+msg, nil))
	}
	conn, err := c.service.CompleteOAuth(ctx.Request().Context(), ctx.QueryParam("state"), ctx.QueryParam("code"))
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, conn, "calendar connected")
}

// ConnectCalDAV
// @Summary Connect a CalDAV account
// @Tags Connection
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body dto.CalDAVConnectRequest true "server and credentials"
// @Success 201 {object} controller.SuccessResponse
// @Failure 400 {object} controller.ErrorResponse
// @Router /private/connections/caldav [post]
func (c *ConnectionController) ConnectCalDAV(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	var req dto.CalDAVConnectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidRequestData, "invalid request body", err))
	}
	conn, err := c.service.ConnectCalDAV(ctx.Request().Context(), userID, req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.CreatedResponse(ctx, conn, "calendar connected")
}

// ListConnections
// @Summary List connections with their sources
// @Tags Connection
// @Security BearerAuth
// @Produce json
// @Success 200 {object} controller.SuccessResponse{data=[]dto.ConnectionResponse}
// @Failure 401 {object} controller.ErrorResponse
// @Router /private/connections [get]
func (c *ConnectionController) ListConnections(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	res, err := c.service.ListConnections(ctx.Request().Context(), userID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, res, "connections retrieved")
}

// Reauthorize
// @Summary Restart OAuth for an expired connection
// @Tags Connection
// @Security BearerAuth
// @Produce json
// @Param id path string true "connection id"
// @Success 200 {object} controller.SuccessResponse{data=dto.AuthURLResponse}
// @Failure 404 {object} controller.ErrorResponse
// @Router /private/connections/{id}/reauthorize [post]
func (c *ConnectionController) Reauthorize(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	res, err := c.service.Reauthorize(ctx.Request().Context(), userID, id)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, res, "authorization started")
}

// TriggerResync
// @Summary Queue a full resync of a connection
// @Tags Connection
// @Security BearerAuth
// @Produce json
// @Param id path string true "connection id"
// @Success 200 {object} controller.SuccessResponse
// @Failure 404 {object} controller.ErrorResponse
// @Router /private/connections/{id}/resync [post]
func (c *ConnectionController) TriggerResync(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	if err := c.service.TriggerResync(ctx.Request().Context(), userID, id); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "resync queued")
}

// Disconnect
// @Summary Remove a connection and its imported data
// @Tags Connection
// @Security BearerAuth
// @Produce json
// @Param id path string true "connection id"
// @Success 200 {object} controller.SuccessResponse
// @Failure 404 {object} controller.ErrorResponse
// @Router /private/connections/{id} [delete]
func (c *ConnectionController) Disconnect(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	if err := c.service.Disconnect(ctx.Request().Context(), userID, id); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "connection removed")
}

// UpdateSource
// @Summary Change direction, privacy, color or enabled on a source
// @Tags Connection
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "source id"
// @Param body body dto.UpdateSourceRequest true "fields to change"
// @Success 200 {object} controller.SuccessResponse{data=dto.SourceResponse}
// @Failure 400 {object} controller.ErrorResponse
// @Router /private/sources/{id} [patch]
func (c *ConnectionController) UpdateSource(ctx echo.Context) error {
	userID, err := middleware.UserID(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	var req dto.UpdateSourceRequest
	if err := ctx.Bind(&req); err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInvalidRequestData, "invalid request body", err))
	}
	res, err := c.service.UpdateSource(ctx.Request().Context(), userID, id, req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, res, "source updated")
}
