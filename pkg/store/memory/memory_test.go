package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rel(src, tgt, relation string) common.Relationship {
	return common.Relationship{Source: src, Target: tgt, Relation: relation, Weight: 1}
}

func TestMergeEntities_TransfersEdgesAndCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddRelationship(rel("CV_004", "Go", "has-skill"))
	s.AddRelationship(rel("Cv_004", "Go", "has-skill")) // duplicate after merge
	s.AddRelationship(rel("Cv_004", "Kubernetes", "has-skill"))
	s.AddRelationship(rel("Candidate CV_004", "Cloud", "works-in"))
	s.AddRelationship(rel("Candidate CV_004", "Cv_004", "alias-of")) // self loop after merge

	before := s.RelationshipCount("CV_004") + s.RelationshipCount("Cv_004") + s.RelationshipCount("Candidate CV_004")

	res, err := s.MergeEntities(ctx, "CV_004", []string{"Cv_004", "Candidate CV_004"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DuplicateEdgesCollapsed)
	assert.Equal(t, 1, res.SelfLoopsDropped)
	assert.Equal(t, 2, res.RelationshipsTransferred)
	assert.Equal(t, []string{"Candidate CV_004", "Cv_004"}, res.VariantsMerged)

	after := s.RelationshipCount("CV_004")
	assert.Equal(t, before-res.DuplicateEdgesCollapsed-2*res.SelfLoopsDropped, after)

	exists, err := s.EntityExists(ctx, "Cv_004")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMergeEntities_AllVariantsGoneIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddEntity(common.Entity{Name: "CV_004"})

	_, err := s.MergeEntities(ctx, "CV_004", []string{"Cv_004"})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestMergeEntities_RejectsVariantEqualToCanonical(t *testing.T) {
	_, err := New().MergeEntities(context.Background(), "CV_004", []string{"CV_004"})
	assert.True(t, store.IsValidation(err))
}

func TestCreateRelationship_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRelationship(ctx, rel("A", "B", "requires")))
	err := s.CreateRelationship(ctx, rel("A", "B", "requires"))
	assert.True(t, store.IsConflict(err))
	assert.NoError(t, s.CreateRelationship(ctx, rel("A", "B", "part-of")))
}

func TestTraverseRelationships_TagsHopDistance(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddRelationship(rel("Cloud Architect", "Kubernetes", "requires"))
	s.AddRelationship(rel("CV_001", "Kubernetes", "has-skill"))
	s.AddRelationship(rel("CV_001", "Acme", "works-in"))
	s.AddRelationship(rel("Acme", "Berlin", "located-in"))

	edges, err := s.TraverseRelationships(ctx, "Cloud Architect", 2)
	require.NoError(t, err)

	hops := map[string]int{}
	for _, e := range edges {
		hops[e.Triple().String()] = e.Hop
	}
	assert.Equal(t, map[string]int{
		"Cloud Architect -[requires]-> Kubernetes": 1,
		"CV_001 -[has-skill]-> Kubernetes":         2,
	}, hops)

	edges, err = s.TraverseRelationships(ctx, "Missing", 3)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestFindEntities_PatternTypesAndCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddEntity(common.Entity{Name: "CV_004", Type: "candidate"})
	s.AddEntity(common.Entity{Name: "Candidate CV_004", Type: "candidate"})
	s.AddEntity(common.Entity{Name: "Go", Type: "skill"})
	s.AddRelationship(rel("CV_004", "Go", "has-skill"))

	got, err := s.FindEntities(ctx, store.ScopeFilter{NamePattern: `^(candidate\s+)?cv[_\s]?\d+$`})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CV_004", got[0].Name)
	assert.Equal(t, 1, got[0].RelationshipCount)
	assert.Equal(t, "Candidate CV_004", got[1].Name)

	_, err = s.FindEntities(ctx, store.ScopeFilter{NamePattern: "("})
	assert.True(t, store.IsValidation(err))
}

func TestFailNext_InjectsErrorsInOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailNext(OpEntityExists, boom, nil)

	_, err := s.EntityExists(ctx, "x")
	assert.ErrorIs(t, err, boom)
	_, err = s.EntityExists(ctx, "x")
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls(OpEntityExists))
}

func TestRecordJob_CompletedRangeIsFinal(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := common.BatchJob{DocumentID: "cigref", Range: common.ChunkRange{Start: 0, End: 5}, Status: common.BatchPending}
	require.NoError(t, s.RecordJob(ctx, job))
	job.Status = common.BatchSubmitted
	require.NoError(t, s.RecordJob(ctx, job))
	job.Status = common.BatchCompleted
	require.NoError(t, s.RecordJob(ctx, job))

	job.Status = common.BatchPending
	assert.ErrorIs(t, s.RecordJob(ctx, job), common.ErrStatusRegression)

	failed := common.BatchJob{DocumentID: "cigref", Range: common.ChunkRange{Start: 5, End: 10}, Status: common.BatchFailed}
	require.NoError(t, s.RecordJob(ctx, failed))
	failed.Status = common.BatchPending
	assert.NoError(t, s.RecordJob(ctx, failed), "failed ranges may restart")

	jobs, err := s.ListJobs(ctx, "cigref")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 0, jobs[0].Range.Start)
}

func TestVectorSimilarity_FallsBackToEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddEntity(common.Entity{Name: "Cloud Architect", Type: "profile"})
	s.AddEntity(common.Entity{Name: "CV_001", Type: "candidate"})
	s.AddEntity(common.Entity{Name: "CV_002", Type: "candidate"})
	s.AddEntity(common.Entity{Name: "CV_003", Type: "candidate"})

	require.NoError(t, s.SetEmbedding(ctx, "Cloud Architect", []float32{1, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "CV_001", []float32{1, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "CV_002", []float32{-1, 0}))
	s.SetSimilarity("Cloud Architect", "CV_003", 0.25)

	got, err := s.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_002", "CV_003", "CV_404"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 1, "CV_002": 0, "CV_003": 0.25}, got)

	assert.True(t, store.IsNotFound(s.SetEmbedding(ctx, "CV_404", []float32{1})))
	assert.True(t, store.IsValidation(s.SetEmbedding(ctx, "CV_001", []float32{0, 0})), "zero vector has no direction")
	assert.True(t, store.IsValidation(s.SetEmbedding(ctx, "CV_001", nil)))
}
