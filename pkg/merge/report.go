package merge

import (
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
)

type Status string

const (
	StatusMerged        Status = "merged"
	StatusAlreadyMerged Status = "already-merged"
	StatusFailed        Status = "failed"
	StatusDryRun        Status = "dry-run"
)

// Outcome is the audit record of one operation.
type Outcome struct {
	Identifier               string   `json:"identifier,omitempty"`
	Canonical                string   `json:"entity_to_change_into"`
	Variants                 []string `json:"entities_to_change"`
	Status                   Status   `json:"status"`
	Attempts                 int      `json:"attempts"`
	RelationshipsTransferred int      `json:"relationships_transferred"`
	DuplicateEdgesCollapsed  int      `json:"duplicate_edges_collapsed"`
	VariantsMissing          []string `json:"variants_missing,omitempty"`
	Error                    string   `json:"error,omitempty"`

	RenamedTo   string `json:"renamed_to,omitempty"`
	RenameError string `json:"rename_error,omitempty"`

	Duration time.Duration `json:"duration"`
}

type Report struct {
	PlanID                   string        `json:"plan_id,omitempty"`
	Total                    int           `json:"total"`
	Merged                   int           `json:"merged"`
	AlreadyMerged            int           `json:"already_merged"`
	Failed                   int           `json:"failed"`
	Skipped                  int           `json:"skipped"`
	EntitiesMerged           int           `json:"entities_merged"`
	RelationshipsTransferred int           `json:"relationships_transferred"`
	DuplicateEdgesCollapsed  int           `json:"duplicate_edges_collapsed"`
	Outcomes                 []Outcome     `json:"outcomes"`
	StartedAt                time.Time     `json:"started_at"`
	Duration                 time.Duration `json:"duration"`
}

// RunStatus summarizes a report. An empty run is "noop", which is a
// success and distinct from a run where every operation failed.
func (r *Report) RunStatus() string {
	switch {
	case r.Total == 0:
		return "noop"
	case r.Failed == 0:
		return "ok"
	case r.Failed == r.Total:
		return "failed"
	default:
		return "partial"
	}
}

func (r *Report) Succeeded() bool { return r.Failed == 0 }

// FailedOperations returns the operations whose outcome was a failure, in
// plan order, ready to be written out as a follow-up plan.
func (r *Report) FailedOperations(ops []common.MergeOperation) []common.MergeOperation {
	var out []common.MergeOperation
	for i, o := range r.Outcomes {
		if o.Status == StatusFailed && i < len(ops) {
			out = append(out, ops[i])
		}
	}
	return out
}

func (r *Report) tally() {
	r.Total = len(r.Outcomes)
	r.Merged, r.AlreadyMerged, r.Failed, r.Skipped = 0, 0, 0, 0
	r.EntitiesMerged, r.RelationshipsTransferred, r.DuplicateEdgesCollapsed = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusMerged:
			r.Merged++
			r.EntitiesMerged += len(o.Variants) - len(o.VariantsMissing)
		case StatusAlreadyMerged:
			r.AlreadyMerged++
		case StatusDryRun:
			r.Skipped++
		default:
			r.Failed++
		}
		r.RelationshipsTransferred += o.RelationshipsTransferred
		r.DuplicateEdgesCollapsed += o.DuplicateEdgesCollapsed
	}
}
