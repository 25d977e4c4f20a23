package router

import (
	"calendar-sync/modules/sync/controller"

	"github.com/labstack/echo/v4"
)

type SyncRouter struct {
	Controller *controller.SyncController
}

func NewSyncRouter(ctrl *controller.SyncController) *SyncRouter {
	return &SyncRouter{Controller: ctrl}
}

func (r *SyncRouter) Setup(e *echo.Echo, mw interface{}) {
	m, ok := mw.(interface {
		AuthMiddleware() echo.MiddlewareFunc
	})
	if !ok {
		return
	}
	priv := e.Group("/api/v1/private", m.AuthMiddleware())
	priv.POST("/sources/:id/outbound", r.Controller.PushItem)
}
