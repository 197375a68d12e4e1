package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetDocumentJobsHandler reports the batch ledger of one document together
// with its progress.
func GetDocumentJobsHandler(c echo.Context) error {
	type jobsResponse struct {
		DocumentID string             `json:"document_id"`
		Jobs       []common.BatchJob  `json:"jobs"`
		Progress   util.BatchProgress `json:"progress"`
	}

	app := c.(*middleware.AppContext).App
	if app.Ledger == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Job ledger not configured"})
	}
	id := c.Param("id")
	jobs, err := app.Ledger.ListJobs(c.Request().Context(), id)
	if err != nil {
		logger.Error("[Server] Failed to list batch jobs", "document", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, jobsResponse{DocumentID: id, Jobs: jobs, Progress: util.BuildBatchProgress(jobs)})
}

// EnqueueIngestHandler queues a document whose chunks are already in object
// storage.
func EnqueueIngestHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Queue not configured"})
	}
	data := new(queue.IngestRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	data.DocumentID = c.Param("id")
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := queue.PublishIngest(app.Queue, *data); err != nil {
		logger.Error("[Server] Failed to enqueue ingestion", "document", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Ingestion queued"})
}

// ResubmitFailedHandler queues the failed ranges recorded for a document.
func ResubmitFailedHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Queue == nil || app.Ledger == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Queue or job ledger not configured"})
	}
	data := new(queue.IngestRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	data.DocumentID = c.Param("id")

	n, err := queue.ResubmitFailed(c.Request().Context(), app.Queue, app.Ledger, *data)
	if err != nil {
		logger.Error("[Server] Failed to resubmit batches", "document", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"message": "Resubmitted failed batches", "ranges": n})
}
