package common

import (
	"errors"
	"fmt"
	"time"
)

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSubmitted BatchStatus = "submitted"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

var ErrStatusRegression = errors.New("batch status regression")

func (s BatchStatus) order() int {
	switch s {
	case BatchPending:
		return 0
	case BatchSubmitted:
		return 1
	case BatchCompleted, BatchFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// CanTransition reports whether moving from s to next keeps the status
// monotonic. Terminal states accept no transition, including to themselves.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	if next.order() < 0 || s.IsTerminal() {
		return false
	}
	return next.order() > s.order()
}

// BatchJob tracks one batch of a document through extraction.
type BatchJob struct {
	DocumentID           string        `json:"document_id"`
	Number               int           `json:"batch_number"`
	Range                ChunkRange    `json:"chunk_range"`
	Status               BatchStatus   `json:"status"`
	AttemptCount         int           `json:"attempt_count"`
	LastError            string        `json:"last_error,omitempty"`
	Handle               string        `json:"handle,omitempty"`
	EntitiesCreated      int           `json:"entities_created"`
	RelationshipsCreated int           `json:"relationships_created"`
	Duration             time.Duration `json:"duration_ns"`
	UpdatedAt            time.Time     `json:"updated_at,omitzero"`
}

// Transition moves the job to next, rejecting any regression.
func (j *BatchJob) Transition(next BatchStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (batch %d, range %s)", ErrStatusRegression, j.Status, next, j.Number, j.Range)
	}
	j.Status = next
	return nil
}

// Fail marks the job failed and records the triggering error.
func (j *BatchJob) Fail(err error) error {
	if err != nil {
		j.LastError = err.Error()
	}
	return j.Transition(BatchFailed)
}
