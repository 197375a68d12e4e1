package util

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
)

type BatchStepProgress struct {
	Pending   string `json:"pending,omitempty"`
	Submitted string `json:"submitted,omitempty"`
	Completed string `json:"completed,omitempty"`
	Failed    string `json:"failed,omitempty"`
}

type BatchProgress struct {
	Step              *BatchStepProgress `json:"step,omitempty"`
	Percentage        int32              `json:"percentage"`
	EstimatedDuration *int64             `json:"estimated_duration_ms,omitempty"`
	TimeRemaining     *int64             `json:"time_remaining_ms,omitempty"`
}

const batchProgressStepCount int64 = 2

// BuildBatchProgress summarizes the batch jobs of one document. Estimates
// are derived from the mean duration of the batches that already finished.
func BuildBatchProgress(jobs []common.BatchJob) BatchProgress {
	total := int64(len(jobs))
	if total == 0 {
		return BatchProgress{}
	}

	var pending, submitted, completed, failed int64
	var finishedDuration time.Duration
	var finished int64
	for _, j := range jobs {
		switch j.Status {
		case common.BatchPending:
			pending++
		case common.BatchSubmitted:
			submitted++
		case common.BatchCompleted:
			completed++
		case common.BatchFailed:
			failed++
		}
		if j.Status.IsTerminal() && j.Duration > 0 {
			finishedDuration += j.Duration
			finished++
		}
	}

	step := BatchStepProgress{}
	if pending > 0 {
		step.Pending = fmt.Sprintf("%d/%d", pending, total)
	}
	if submitted > 0 {
		step.Submitted = fmt.Sprintf("%d/%d", submitted, total)
	}
	if completed > 0 {
		step.Completed = fmt.Sprintf("%d/%d", completed, total)
	}
	if failed > 0 {
		step.Failed = fmt.Sprintf("%d/%d", failed, total)
	}

	progress := BatchProgress{
		Step:       &step,
		Percentage: CalculateBatchProgressPercentage(total, submitted, completed+failed),
	}

	if finished > 0 {
		mean := int64(finishedDuration/time.Millisecond) / finished
		estimated := mean * total
		remaining := mean * (pending + submitted)
		progress.EstimatedDuration = &estimated
		if remaining > 0 {
			progress.TimeRemaining = &remaining
		}
	}
	return progress
}

// CalculateBatchProgressPercentage weighs a submitted batch as half done and
// a terminal one as done.
func CalculateBatchProgressPercentage(total, submitted, terminal int64) int32 {
	if total <= 0 {
		return 0
	}
	totalWork := total * batchProgressStepCount
	completedWork := min(submitted+terminal*batchProgressStepCount, totalWork)
	return int32(completedWork * 100 / totalWork)
}
