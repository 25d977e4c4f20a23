package connection

import (
	"calendar-sync/core/middleware"
	"calendar-sync/modules/connection/controller"
	"calendar-sync/modules/connection/router"
	"calendar-sync/modules/connection/service"

	"github.com/labstack/echo/v4"
)

func Init(e *echo.Echo, mw *middleware.Middleware, deps service.Deps, opts service.Options) *service.ConnectionService {
	connectionService := service.NewConnectionService(deps, opts)
	router.NewConnectionRouter(controller.NewConnectionController(connectionService)).Setup(e, mw)
	return connectionService
}
