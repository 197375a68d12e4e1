package pgx

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *GraphDBStorage) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewGraphDBStorageWithConnection(mock)
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func clusterRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "name", "type", "description"})
}

func TestMergeEntities_MovesEdgesInOneTransaction(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockClusterSQL)).
		WithArgs([]string{"CV_004", "Cv_004", "Candidate CV_004"}).
		WillReturnRows(clusterRows().
			AddRow(int64(1), "CV_004", "candidate", "").
			AddRow(int64(7), "Cv_004", "candidate", ""))
	mock.ExpectExec(q(dropSelfLoopsSQL)).
		WithArgs([]int64{7}, []int64{1, 7}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(collapseDuplicatesSQL)).
		WithArgs([]int64{7}, int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(q(moveEdgesSQL)).
		WithArgs([]int64{7}, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 6))
	mock.ExpectExec(q(deleteVariantsSQL)).
		WithArgs([]int64{7}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := s.MergeEntities(ctx, "CV_004", []string{"Cv_004", "Candidate CV_004"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.RelationshipsTransferred)
	assert.Equal(t, 2, res.DuplicateEdgesCollapsed)
	assert.Equal(t, 1, res.SelfLoopsDropped)
	assert.Equal(t, []string{"Cv_004"}, res.VariantsMerged)
	assert.Equal(t, []string{"Candidate CV_004"}, res.VariantsMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntities_CreatesMissingCanonical(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockClusterSQL)).
		WithArgs([]string{"CV_012", "Cv_012"}).
		WillReturnRows(clusterRows().AddRow(int64(3), "Cv_012", "candidate", "imported"))
	mock.ExpectQuery(q(insertCanonicalSQL)).
		WithArgs("CV_012", "candidate", "imported").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(q(dropSelfLoopsSQL)).
		WithArgs([]int64{3}, []int64{9, 3}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q(collapseDuplicatesSQL)).
		WithArgs([]int64{3}, int64(9)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q(moveEdgesSQL)).
		WithArgs([]int64{3}, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectExec(q(deleteVariantsSQL)).
		WithArgs([]int64{3}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := s.MergeEntities(ctx, "CV_012", []string{"Cv_012"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.RelationshipsTransferred)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntities_AllVariantsGoneIsNotFound(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockClusterSQL)).
		WithArgs([]string{"CV_004", "Cv_004"}).
		WillReturnRows(clusterRows().AddRow(int64(1), "CV_004", "candidate", ""))
	mock.ExpectRollback()

	_, err := s.MergeEntities(context.Background(), "CV_004", []string{"Cv_004"})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntities_RejectsVariantEqualToCanonical(t *testing.T) {
	mock, s := newMock(t)
	_, err := s.MergeEntities(context.Background(), "CV_004", []string{"CV_004"})
	assert.True(t, store.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntities_DeadlockIsTransient(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockClusterSQL)).
		WithArgs([]string{"CV_004", "Cv_004"}).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	_, err := s.MergeEntities(context.Background(), "CV_004", []string{"Cv_004"})
	assert.True(t, store.IsTransient(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRelationship_ExistingTripleIsConflict(t *testing.T) {
	mock, s := newMock(t)
	rel := common.Relationship{Source: "CV_001", Target: "Software Engineering", Relation: "works_in"}

	mock.ExpectBegin()
	mock.ExpectExec(q(ensureEndpointsSQL)).
		WithArgs("CV_001", "Software Engineering").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(q(createRelationshipSQL)).
		WithArgs("CV_001", "Software Engineering", "works_in", 1.0, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := s.CreateRelationship(context.Background(), rel)
	assert.True(t, store.IsConflict(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEntity_UniqueViolationIsConflict(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec(q(createEntitySQL)).
		WithArgs("CV_001", "candidate", "").
		WillReturnError(&pgconn.PgError{Code: "23505", Detail: "Key (name)=(CV_001) already exists."})

	err := s.CreateEntity(context.Background(), "CV_001", "", "candidate")
	assert.True(t, store.IsConflict(err), "got %v", err)
}

func TestFindEntities_ScansRelationshipCounts(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(q(findEntitiesSQL)).
		WithArgs(`^cv_\d+$`, []string{}, 0).
		WillReturnRows(pgxmock.NewRows([]string{"name", "type", "description", "relationship_count"}).
			AddRow("CV_004", "candidate", "", int64(20)).
			AddRow("Cv_004", "candidate", "", int64(7)))

	got, err := s.FindEntities(context.Background(), store.ScopeFilter{NamePattern: `^cv_\d+$`})
	require.NoError(t, err)
	assert.Equal(t, []common.Entity{
		{Name: "CV_004", Type: "candidate", RelationshipCount: 20},
		{Name: "Cv_004", Type: "candidate", RelationshipCount: 7},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameEntity_MissingRowIsNotFound(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec(q(renameEntitySQL)).
		WithArgs("Cv_12", "CV_12", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RenameEntity(context.Background(), "Cv_12", "CV_12", "")
	assert.True(t, store.IsNotFound(err), "got %v", err)
}

func TestVectorSimilarity_OmitsUnscoredCandidates(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(q(vectorSimilaritySQL)).
		WithArgs("Cloud Architect", []string{"CV_001", "CV_002"}).
		WillReturnRows(pgxmock.NewRows([]string{"name", "score"}).AddRow("CV_001", 0.83))

	got, err := s.VectorSimilarity(context.Background(), "Cloud Architect", []string{"CV_001", "CV_002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.83}, got)
}

func TestVectorSimilarity_SkipsNonFiniteScores(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(q(vectorSimilaritySQL)).
		WithArgs("Cloud Architect", []string{"CV_001", "CV_002"}).
		WillReturnRows(pgxmock.NewRows([]string{"name", "score"}).
			AddRow("CV_001", 0.83).
			AddRow("CV_002", math.NaN()))

	got, err := s.VectorSimilarity(context.Background(), "Cloud Architect", []string{"CV_001", "CV_002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.83}, got)
	assert.Contains(t, vectorSimilaritySQL, "<> 'NaN'")
}

func TestSetEmbedding_RejectsZeroVectorWithoutQuery(t *testing.T) {
	mock, s := newMock(t)
	err := s.SetEmbedding(context.Background(), "CV_001", []float32{0, 0, 0})
	assert.True(t, store.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTraverseRelationships_ScansHops(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(q(traverseSQL)).
		WithArgs("Cloud Architect", 2, 10000).
		WillReturnRows(pgxmock.NewRows([]string{"source", "target", "relation", "weight", "description", "hop"}).
			AddRow("Cloud Architect", "Cloud", "includes_job", 1.0, "", int32(1)).
			AddRow("CV_001", "Cloud", "works_in", 1.0, "", int32(2)))

	got, err := s.TraverseRelationships(context.Background(), "Cloud Architect", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Hop)
	assert.Equal(t, "CV_001", got[1].Source)
}

func TestRecordJob_RejectsRegressionFromCompleted(t *testing.T) {
	mock, s := newMock(t)
	job := common.BatchJob{
		DocumentID: "doc-1", Number: 2, Range: common.ChunkRange{Start: 5, End: 10},
		Status: common.BatchSubmitted, AttemptCount: 2,
	}
	cols := []string{
		"document_id", "batch_number", "range_start", "range_end", "status", "attempt_count",
		"last_error", "handle", "entities_created", "relationships_created", "duration_ms", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockJobSQL)).
		WithArgs("doc-1", 5, 10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("doc-1", 2, 5, 10, "completed", 1, "", "h-2", 4, 9, int64(1500), time.Now()))
	mock.ExpectRollback()

	err := s.RecordJob(context.Background(), job)
	assert.ErrorIs(t, err, common.ErrStatusRegression)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJob_InsertsFirstTransition(t *testing.T) {
	mock, s := newMock(t)
	job := common.BatchJob{
		DocumentID: "doc-1", Number: 1, Range: common.ChunkRange{Start: 0, End: 5},
		Status: common.BatchPending, AttemptCount: 1,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockJobSQL)).
		WithArgs("doc-1", 0, 5).
		WillReturnError(pgxv5.ErrNoRows)
	mock.ExpectExec(q(upsertJobSQL)).
		WithArgs("doc-1", 1, 0, 5, "pending", 1, "", "", 0, 0, int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.RecordJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"no rows", pgxv5.ErrNoRows, store.IsNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, store.IsConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, store.IsTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, store.IsTransient},
		{"connection failure", &pgconn.PgError{Code: "08006"}, store.IsTransient},
		{"invalid regex", &pgconn.PgError{Code: "2201B"}, store.IsValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError("op", tc.err)
			if !tc.check(got) {
				t.Fatalf("mapError(%v) = %v", tc.err, got)
			}
		})
	}

	if got := mapError("op", context.Canceled); !errors.Is(got, context.Canceled) || store.IsTransient(got) {
		t.Fatalf("context errors must pass through untouched, got %v", got)
	}
}
