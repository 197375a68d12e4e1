package ingest

import (
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
)

type PollResult string

const (
	PollCompleted PollResult = "completed"
	PollFailed    PollResult = "failed"
	PollTimedOut  PollResult = "timed-out"
)

// BatchResult is the per-batch line of an ingestion report. Skipped batches
// were already covered by a completed range or excluded by the run options.
type BatchResult struct {
	common.BatchJob
	Skipped    bool       `json:"skipped,omitempty"`
	PollResult PollResult `json:"poll_result,omitempty"`
	Polls      int        `json:"polls,omitempty"`
}

type Report struct {
	DocumentID   string        `json:"document_id"`
	TotalChunks  int           `json:"total_chunks"`
	TotalBatches int           `json:"total_batches"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Entities     int           `json:"entities_created"`
	Relations    int           `json:"relationships_created"`
	Batches      []BatchResult `json:"batches"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// FailedRanges lists the chunk ranges to resubmit.
func (r *Report) FailedRanges() []common.ChunkRange {
	var out []common.ChunkRange
	for _, b := range r.Batches {
		if !b.Skipped && b.Status == common.BatchFailed {
			out = append(out, b.Range)
		}
	}
	return out
}

// Progress summarizes the batches this run attempted.
func (r *Report) Progress() util.BatchProgress {
	jobs := make([]common.BatchJob, 0, len(r.Batches))
	for _, b := range r.Batches {
		if b.Skipped {
			continue
		}
		jobs = append(jobs, b.BatchJob)
	}
	return util.BuildBatchProgress(jobs)
}

func (r *Report) tally() {
	r.TotalBatches = len(r.Batches)
	r.Completed, r.Failed, r.Skipped, r.Entities, r.Relations = 0, 0, 0, 0, 0
	for _, b := range r.Batches {
		switch {
		case b.Skipped:
			r.Skipped++
		case b.Status == common.BatchCompleted:
			r.Completed++
			r.Entities += b.EntitiesCreated
			r.Relations += b.RelationshipsCreated
		default:
			r.Failed++
		}
	}
}
