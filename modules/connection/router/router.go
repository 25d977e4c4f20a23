package router

import (
	"calendar-sync/modules/connection/controller"

	"github.com/labstack/echo/v4"
)

type ConnectionRouter struct {
	Controller *controller.ConnectionController
}

func NewConnectionRouter(ctrl *controller.ConnectionController) *ConnectionRouter {
	return &ConnectionRouter{Controller: ctrl}
}

func (r *ConnectionRouter) Setup(e *echo.Echo, mw interface{}) {
	e.GET("/api/v1/oauth/:provider/callback", r.Controller.OAuthCallback)

	m, ok := mw.(interface {
		AuthMiddleware() echo.MiddlewareFunc
	})
	if !ok {
		return
	}
	priv := e.Group("/api/v1/private", m.AuthMiddleware())
	priv.GET("/connections", r.Controller.ListConnections)
	priv.POST("/connections/caldav", r.Controller.ConnectCalDAV)
	priv.POST("/connections/:provider/authorize", r.Controller.BeginOAuth)
	priv.POST("/connections/:id/reauthorize", r.Controller.Reauthorize)
	priv.POST("/connections/:id/resync", r.Controller.TriggerResync)
	priv.DELETE("/connections/:id", r.Controller.Disconnect)
	priv.PATCH("/sources/:id", r.Controller.UpdateSource)
}
