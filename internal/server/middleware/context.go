package middleware

import (
	"context"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/rank"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/resolve"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// PlanStore keeps identified merge plans for later review and execution.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *common.MergePlan) (string, error)
	LoadPlan(ctx context.Context, id string) (*common.MergePlan, error)
	ListPlans(ctx context.Context) ([]string, error)
}

// App holds the long-lived dependencies shared by every request. Ledger and
// Queue are optional; the routes that need them answer 503 without.
type App struct {
	Ranker   *rank.Engine
	Resolver *resolve.Resolver
	Plans    PlanStore
	Ledger   store.JobLedger
	Queue    queue.Publisher
	APIKey   string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
