package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/storage"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/timing"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/ingest"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

// IngestRequest asks a worker to ingest one document whose chunks were
// uploaded to object storage.
type IngestRequest struct {
	DocumentID     string              `json:"document_id" validate:"required"`
	DocumentType   string              `json:"document_type,omitempty"`
	SourceFilename string              `json:"source_filename,omitempty"`
	ChunksKey      string              `json:"chunks_key,omitempty"`
	BatchSize      int                 `json:"batch_size,omitempty" validate:"omitempty,min=1"`
	StartBatch     int                 `json:"start_batch,omitempty" validate:"omitempty,min=1"`
	OnlyRanges     []common.ChunkRange `json:"only_ranges,omitempty"`
}

func (r IngestRequest) chunksKey() string {
	if r.ChunksKey != "" {
		return r.ChunksKey
	}
	return storage.ChunksKey(r.DocumentID)
}

// Objects is where chunk payloads are read and run reports written.
type Objects interface {
	GetJSON(ctx context.Context, key string, out any) error
	PutJSON(ctx context.Context, key string, v any) error
}

type IngestHandler struct {
	coordinator *ingest.Coordinator
	objects     Objects
	now         func() time.Time
}

func NewIngestHandler(c *ingest.Coordinator, objects Objects) *IngestHandler {
	return &IngestHandler{coordinator: c, objects: objects, now: time.Now}
}

// Process runs one ingestion request. Failed batches are part of the report,
// not a message failure: they are resubmitted with ResubmitFailed. Only
// problems that prevent the run itself are returned, so the message retries.
func (h *IngestHandler) Process(ctx context.Context, body []byte) error {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to decode ingest request: %w", err)
	}
	if req.DocumentID == "" {
		return store.Validation("ingest request has no document id")
	}
	defer timing.Track("Queue", "ingest", "document", req.DocumentID)()

	var chunks []common.Chunk
	if err := h.objects.GetJSON(ctx, req.chunksKey(), &chunks); err != nil {
		return fmt.Errorf("failed to load chunks for %s: %w", req.DocumentID, err)
	}

	report, err := h.coordinator.IngestDocument(ctx, ingest.Document{
		ID:             req.DocumentID,
		Type:           req.DocumentType,
		SourceFilename: req.SourceFilename,
		Chunks:         chunks,
	}, ingest.Options{
		BatchSize:  req.BatchSize,
		StartBatch: req.StartBatch,
		OnlyRanges: req.OnlyRanges,
	})
	if err != nil {
		return err
	}

	key := storage.ReportKey("ingest", fmt.Sprintf("%s-%d", req.DocumentID, h.now().Unix()))
	if err := h.objects.PutJSON(ctx, key, report); err != nil {
		logger.Warn("[Queue] Failed to store ingestion report", "document", req.DocumentID, "err", err)
	}
	logger.Info("[Queue] Document ingested",
		"document", req.DocumentID,
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"report", key,
	)
	return nil
}

func PublishIngest(ch Publisher, req IngestRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode ingest request: %w", err)
	}
	return PublishFIFO(ch, IngestQueue, data)
}

// ResubmitFailed publishes a request limited to the ranges the ledger
// records as failed for req.DocumentID. It returns the number of ranges.
func ResubmitFailed(ctx context.Context, ch Publisher, ledger store.JobLedger, req IngestRequest) (int, error) {
	jobs, err := ledger.ListJobs(ctx, req.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	var ranges []common.ChunkRange
	for _, j := range jobs {
		if j.Status == common.BatchFailed {
			ranges = append(ranges, j.Range)
		}
	}
	if len(ranges) == 0 {
		logger.Info("[Queue] No failed batches to resubmit", "document", req.DocumentID)
		return 0, nil
	}
	req.OnlyRanges = ranges
	req.StartBatch = 0
	if err := PublishIngest(ch, req); err != nil {
		return 0, err
	}
	logger.Info("[Queue] Resubmitted failed batches", "document", req.DocumentID, "ranges", len(ranges))
	return len(ranges), nil
}
