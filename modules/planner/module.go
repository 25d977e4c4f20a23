package planner

import (
	"calendar-sync/core/database"
	"calendar-sync/core/middleware"
	"calendar-sync/modules/planner/controller"
	"calendar-sync/modules/planner/repository"
	"calendar-sync/modules/planner/router"
	"calendar-sync/modules/planner/service"

	"github.com/labstack/echo/v4"
)

// Init wires the planner boundary and its focus block endpoints. The
// returned service is what sync writes imported events through.
func Init(e *echo.Echo, db database.IDatabase, mw *middleware.Middleware, propagator service.FocusPropagator, cleaner service.MappingCleaner) service.PlannerServiceInterface {
	repo := repository.NewPlannerRepository(db)
	plannerService := service.NewPlannerService(repo).WithMappingCleaner(cleaner)
	focusService := service.NewFocusService(plannerService, propagator)

	router.NewPlannerRouter(controller.NewFocusController(focusService)).Setup(e, mw)
	return plannerService
}
