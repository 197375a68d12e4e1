package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/rank"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// RankHandler ranks candidates for a job profile. With ?trace=true the
// response also carries the ranking trace.
func RankHandler(c echo.Context) error {
	type rankResponse struct {
		Message string                  `json:"message,omitempty"`
		Result  *rank.Result            `json:"result,omitempty"`
		Trace   *rank.RankTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(rank.ProfileRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, rankResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, rankResponse{Message: err.Error()})
	}

	app := c.(*middleware.AppContext).App
	var tracer rank.Tracer
	var trace *rank.RankTrace
	if c.QueryParam("trace") == "true" {
		trace = rank.NewRankTrace()
		tracer = trace
	}

	result, err := app.Ranker.RankProfile(c.Request().Context(), *data, tracer)
	if err != nil {
		if store.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, rankResponse{Message: err.Error()})
		}
		logger.Error("[Server] Ranking failed", "profile", data.ProfileName, "err", err)
		return c.JSON(http.StatusBadGateway, rankResponse{Message: "Ranking failed"})
	}

	resp := rankResponse{Result: result}
	if trace != nil {
		snap := trace.Snapshot()
		resp.Trace = &snap
	}
	return c.JSON(http.StatusOK, resp)
}
