package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

func GetPlanHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Missing plan id"})
	}

	app := c.(*middleware.AppContext).App
	plan, err := app.Plans.LoadPlan(c.Request().Context(), id)
	switch {
	case store.IsNotFound(err):
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Plan not found"})
	case err != nil:
		logger.Error("[Server] Failed to load merge plan", "plan_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, plan)
}

func ListPlansHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ids, err := app.Plans.ListPlans(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to list merge plans", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, map[string]any{"plans": ids})
}
