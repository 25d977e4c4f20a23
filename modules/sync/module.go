package sync

import (
	"calendar-sync/core/middleware"
	"calendar-sync/modules/sync/controller"
	"calendar-sync/modules/sync/handler"
	"calendar-sync/modules/sync/router"
	"calendar-sync/modules/sync/service"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

func Init(e *echo.Echo, mw *middleware.Middleware, mux *asynq.ServeMux, deps service.Deps) *service.SyncService {
	syncService := service.NewSyncService(deps)
	handler.NewSyncHandler(syncService).Register(mux)
	router.NewSyncRouter(controller.NewSyncController(syncService)).Setup(e, mw)
	return syncService
}
