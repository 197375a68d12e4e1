// Package timing formats and logs wall-clock durations of long-running
// phases (ingestion runs, plan execution, queue messages).
package timing

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
)

// HMS formats d as hh:mm:ss. Hours are not wrapped at 24.
func HMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Track starts a timer for phase and returns the func that logs its
// duration. Use it with defer.
func Track(tag, phase string, keyvals ...any) func() {
	start := time.Now()
	return func() {
		kv := append([]any{"phase", phase, "duration", HMS(time.Since(start))}, keyvals...)
		logger.Info(fmt.Sprintf("[%s] Processing time", tag), kv...)
	}
}

// EstimateRemaining projects the time left for the remaining items from the
// mean duration of the finished ones. It returns false when nothing has
// finished yet.
func EstimateRemaining(elapsed time.Duration, finished, remaining int) (time.Duration, bool) {
	if finished <= 0 {
		return 0, false
	}
	if remaining <= 0 {
		return 0, true
	}
	return elapsed / time.Duration(finished) * time.Duration(remaining), true
}
