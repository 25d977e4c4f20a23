package router

import (
	"calendar-sync/modules/planner/controller"

	"github.com/labstack/echo/v4"
)

type PlannerRouter struct {
	Controller *controller.FocusController
}

func NewPlannerRouter(ctrl *controller.FocusController) *PlannerRouter {
	return &PlannerRouter{Controller: ctrl}
}

func (r *PlannerRouter) Setup(e *echo.Echo, mw interface{}) {
	m, ok := mw.(interface {
		AuthMiddleware() echo.MiddlewareFunc
	})
	if !ok {
		return
	}
	v1 := e.Group("/api/v1")
	priv := v1.Group("/private", m.AuthMiddleware())
	focus := priv.Group("/focus-blocks")
	focus.POST("", r.Controller.CreateFocusBlock)
	focus.PUT("/:id", r.Controller.UpdateFocusBlock)
	focus.DELETE("/:id", r.Controller.DeleteFocusBlock)
}
