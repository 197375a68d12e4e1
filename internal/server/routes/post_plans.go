package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// CreatePlanHandler runs duplicate identification and stores the plan. It
// never applies anything; execution is a separate operator step.
func CreatePlanHandler(c echo.Context) error {
	type createPlanBody struct {
		NamePattern string   `json:"name_pattern"`
		EntityTypes []string `json:"entity_types"`
		Limit       int      `json:"limit" validate:"omitempty,min=1"`
	}

	type createPlanResponse struct {
		Message string            `json:"message"`
		Key     string            `json:"key,omitempty"`
		Plan    *common.MergePlan `json:"plan,omitempty"`
	}

	data := new(createPlanBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createPlanResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createPlanResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	scope := app.Resolver.DefaultScope()
	if data.NamePattern != "" {
		scope.NamePattern = data.NamePattern
	}
	scope.EntityTypes = data.EntityTypes
	scope.Limit = data.Limit

	ctx := c.Request().Context()
	plan, err := app.Resolver.IdentifyDuplicates(ctx, scope)
	if err != nil {
		if store.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, createPlanResponse{Message: err.Error()})
		}
		logger.Error("[Server] Failed to identify duplicates", "err", err)
		return c.JSON(http.StatusBadGateway, createPlanResponse{Message: "Failed to identify duplicates"})
	}

	key, err := app.Plans.SavePlan(ctx, plan)
	if err != nil {
		logger.Error("[Server] Failed to store merge plan", "plan_id", plan.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createPlanResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusCreated, createPlanResponse{Message: "Plan created", Key: key, Plan: plan})
}
