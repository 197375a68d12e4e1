package store_test

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRelationships_SuppressesAndToleratesConflicts(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.AddRelationship(common.Relationship{Source: "CV_001", Target: "Go", Relation: "has-skill"})

	attempted := store.NewTripleSet()
	rels := []common.Relationship{
		{Source: "CV_001", Target: "Go", Relation: "has-skill"},      // conflict
		{Source: "CV_001", Target: "Python", Relation: "has-skill"},  // created
		{Source: "CV_001", Target: "Python", Relation: "has-skill"},  // suppressed
		{Source: "CV_001", Target: "", Relation: "has-skill"},        // validation failure
		{Source: "CV_001", Target: "Acme", Relation: "works-in"},     // created
	}

	stats, err := store.CreateRelationships(ctx, s, attempted, rels)
	require.Error(t, err)
	assert.True(t, store.IsValidation(err))
	assert.Equal(t, store.RelationshipWriteStats{Created: 2, Conflicts: 1, Suppressed: 1, Failed: 1}, stats)
	assert.Equal(t, 4, attempted.Len())
	assert.Equal(t, 3, s.Calls(memory.OpCreateRelationship), "validation happens before the store is touched")
}

func TestChunkRange_Windows(t *testing.T) {
	var got [][2]int
	err := store.ChunkRange(7, 3, func(start, end int) error {
		got = append(got, [2]int{start, end})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, got)
}

func TestErrorTaxonomy(t *testing.T) {
	err := store.Transient("merge", assert.AnError)
	assert.True(t, store.IsTransient(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, store.IsTransient(store.Validation("bad")))
	assert.True(t, store.IsValidation(store.Validation("bad %d", 1)))
}

func TestValidateJobTransition(t *testing.T) {
	r := common.ChunkRange{Start: 0, End: 5}
	job := func(s common.BatchStatus, attempt int) *common.BatchJob {
		return &common.BatchJob{Range: r, Status: s, AttemptCount: attempt}
	}
	tests := []struct {
		name string
		prev *common.BatchJob
		next *common.BatchJob
		ok   bool
	}{
		{"first record", nil, job(common.BatchPending, 1), true},
		{"forward", job(common.BatchPending, 1), job(common.BatchSubmitted, 1), true},
		{"repeat non-terminal", job(common.BatchSubmitted, 1), job(common.BatchSubmitted, 1), true},
		{"completed is final", job(common.BatchCompleted, 1), job(common.BatchPending, 2), false},
		{"failed restarts", job(common.BatchFailed, 1), job(common.BatchPending, 2), true},
		{"abandoned restarts with new attempt", job(common.BatchSubmitted, 1), job(common.BatchPending, 2), true},
		{"regression within attempt", job(common.BatchSubmitted, 1), job(common.BatchPending, 1), false},
		{"failed to completed", job(common.BatchFailed, 1), job(common.BatchCompleted, 1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := store.ValidateJobTransition(tc.prev, *tc.next)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrStatusRegression)
			}
		})
	}
}
