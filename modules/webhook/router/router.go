package router

import (
	"calendar-sync/modules/webhook/controller"

	"github.com/labstack/echo/v4"
)

type WebhookRouter struct {
	Controller *controller.WebhookController
}

func NewWebhookRouter(ctrl *controller.WebhookController) *WebhookRouter {
	return &WebhookRouter{Controller: ctrl}
}

// Setup registers the public receipt endpoints. Providers authenticate with
// the per-connection secret, not a bearer token.
func (r *WebhookRouter) Setup(e *echo.Echo) {
	hooks := e.Group("/api/v1/webhooks")
	hooks.POST("/google/:connection_id/:source_id", r.Controller.Google)
	hooks.POST("/microsoft/:connection_id/:source_id", r.Controller.Microsoft)
}
