package controller

import (
	"context"
	"io"
	"net/http"
	"sync"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/modules/webhook/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const maxNotificationBytes = 1 << 20

// WebhookController acknowledges every push before looking at it; the
// provider gets its 2xx even for requests that later fail verification.
type WebhookController struct {
	service service.IngestServiceInterface
	wg      sync.WaitGroup
}

func NewWebhookController(service service.IngestServiceInterface) *WebhookController {
	return &WebhookController{service: service}
}

func pathIDs(ctx echo.Context) (uuid.UUID, uuid.UUID) {
	connectionID, _ := uuid.Parse(ctx.Param("connection_id"))
	sourceID, _ := uuid.Parse(ctx.Param("source_id"))
	return connectionID, sourceID
}

func (c *WebhookController) detach(name string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebhookHandleTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("WebhookController:"+name+":Dropped", "error", err)
		}
	}()
}

// Wait blocks until notifications already acknowledged have been processed.
func (c *WebhookController) Wait() {
	c.wg.Wait()
}

// Google push notification
// @Summary Google push notification
// @Tags Webhook
// @Param connection_id path string true "connection id"
// @Param source_id path string true "source id"
// @Param X-Goog-Channel-ID header string true "channel id"
// @Param X-Goog-Resource-State header string true "sync, exists or not_exists"
// @Param X-Goog-Channel-Token header string false "channel token"
// @Success 200
// @Router /webhooks/google/{connection_id}/{source_id} [post]
func (c *WebhookController) Google(ctx echo.Context) error {
	connectionID, sourceID := pathIDs(ctx)
	h := ctx.Request().Header
	n := service.GoogleNotification{
		ConnectionID:  connectionID,
		SourceID:      sourceID,
		ChannelID:     h.Get("X-Goog-Channel-ID"),
		ResourceID:    h.Get("X-Goog-Resource-ID"),
		ResourceState: h.Get("X-Goog-Resource-State"),
		MessageNumber: h.Get("X-Goog-Message-Number"),
		Token:         h.Get("X-Goog-Channel-Token"),
	}
	c.detach("Google", func(ctx context.Context) error {
		return c.service.HandleGoogle(ctx, n)
	})
	return ctx.NoContent(http.StatusOK)
}

// Microsoft change and lifecycle notifications, plus the subscribe-time
// validation handshake
// @Summary Microsoft Graph change or lifecycle notification
// @Tags Webhook
// @Accept json
// @Produce plain
// @Param connection_id path string true "connection id"
// @Param source_id path string true "source id"
// @Param validationToken query string false "subscription handshake"
// @Success 200 {string} string "validation token echo"
// @Success 202
// @Router /webhooks/microsoft/{connection_id}/{source_id} [post]
func (c *WebhookController) Microsoft(ctx echo.Context) error {
	if token := ctx.QueryParam("validationToken"); token != "" {
		return ctx.String(http.StatusOK, token)
	}
	connectionID, sourceID := pathIDs(ctx)
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxNotificationBytes))
	if err != nil {
		logger.Warn("WebhookController:Microsoft:ReadBody:Error", "error", err)
		return ctx.NoContent(http.StatusAccepted)
	}
	c.detach("Microsoft", func(ctx context.Context) error {
		return c.service.HandleGraph(ctx, connectionID, sourceID, body)
	})
	return ctx.NoContent(http.StatusAccepted)
}
