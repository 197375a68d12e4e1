package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestUpsertDocument_OverwritesByID(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	require.NoError(t, l.UpsertDocument(ctx, common.DocumentMetadata{
		DocumentID: "cigref-2024", DocumentType: "job_profiles", SourceFilename: "cigref.pdf",
	}))
	require.NoError(t, l.UpsertDocument(ctx, common.DocumentMetadata{
		DocumentID: "cigref-2024", DocumentType: "job_profiles", SourceFilename: "cigref_v2.pdf",
	}))

	got, err := l.GetDocument(ctx, "cigref-2024")
	require.NoError(t, err)
	assert.Equal(t, "cigref_v2.pdf", got.SourceFilename)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = l.GetDocument(ctx, "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestRecordJob_PersistsTransitionsAndRejectsRegression(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	job := common.BatchJob{
		DocumentID: "cigref-2024", Number: 1, Range: common.ChunkRange{Start: 0, End: 5},
		Status: common.BatchPending, AttemptCount: 1,
	}
	require.NoError(t, l.RecordJob(ctx, job))
	job.Status = common.BatchSubmitted
	job.Handle = "track-1"
	require.NoError(t, l.RecordJob(ctx, job))
	job.Status = common.BatchCompleted
	job.EntitiesCreated = 12
	job.Duration = 1500 * time.Millisecond
	require.NoError(t, l.RecordJob(ctx, job))

	job.Status = common.BatchFailed
	assert.ErrorIs(t, l.RecordJob(ctx, job), common.ErrStatusRegression)

	second := common.BatchJob{
		DocumentID: "cigref-2024", Number: 2, Range: common.ChunkRange{Start: 5, End: 10},
		Status: common.BatchFailed, AttemptCount: 1, LastError: "timed out",
	}
	require.NoError(t, l.RecordJob(ctx, second))

	jobs, err := l.ListJobs(ctx, "cigref-2024")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, common.BatchCompleted, jobs[0].Status)
	assert.Equal(t, "track-1", jobs[0].Handle)
	assert.Equal(t, 12, jobs[0].EntitiesCreated)
	assert.Equal(t, 1500*time.Millisecond, jobs[0].Duration)
	assert.Equal(t, "timed out", jobs[1].LastError)
}
