package neo4j

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestPlanEdgeMoves_RewritesCollapsesAndDropsSelfLoops(t *testing.T) {
	present := map[string]struct{}{"Cv_004": {}, "Candidate CV_004": {}}
	edges := []common.Relationship{
		{Source: "CV_004", Target: "Software Engineering", Relation: "works_in"},
		{Source: "Cv_004", Target: "Software Engineering", Relation: "works_in"},
		{Source: "Cv_004", Target: "Backend Developer", Relation: "has_job_title"},
		{Source: "Candidate CV_004", Target: "Backend Developer", Relation: "has_job_title"},
		{Source: "Candidate CV_004", Target: "CV_004", Relation: "same_as"},
		{Source: "Senior", Target: "Cv_004", Relation: "describes"},
	}

	var res store.MergeResult
	moves := store.PlanEdgeMoves("CV_004", present, edges, &res)

	want := []common.Relationship{
		{Source: "CV_004", Target: "Backend Developer", Relation: "has_job_title"},
		{Source: "Senior", Target: "CV_004", Relation: "describes"},
	}
	if !reflect.DeepEqual(moves, want) {
		t.Fatalf("moves = %+v, want %+v", moves, want)
	}
	if res.RelationshipsTransferred != 2 || res.DuplicateEdgesCollapsed != 2 || res.SelfLoopsDropped != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestPlanEdgeMoves_NoVariantEdges(t *testing.T) {
	var res store.MergeResult
	moves := store.PlanEdgeMoves("CV_001", map[string]struct{}{"cv_001": {}}, []common.Relationship{
		{Source: "CV_001", Target: "Cloud", Relation: "works_in"},
	}, &res)
	if len(moves) != 0 || res.RelationshipsTransferred != 0 {
		t.Fatalf("expected nothing to move, got %+v / %+v", moves, res)
	}
}

func TestSearchPattern_MatchesAnywhereIgnoringCase(t *testing.T) {
	// Java and RE2 agree on this subset, so the wrapped pattern can be
	// checked with regexp as a full match.
	re := regexp.MustCompile("^" + searchPattern(`^(candidate\s+)?cv[_\s]?\d+$`) + "$")
	for _, name := range []string{"CV_004", "Candidate CV_004", "cv 12"} {
		if !re.MatchString(name) {
			t.Fatalf("expected %q to match", name)
		}
	}
	if re.MatchString("Candidate CV_004 (old)") {
		t.Fatal("anchors must still apply")
	}
	if searchPattern("") != "" {
		t.Fatal("empty pattern must stay empty")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"constraint", &neo4jv5.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}, store.IsConflict},
		{"deadlock", &neo4jv5.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}, store.IsTransient},
		{"syntax", &neo4jv5.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}, store.IsValidation},
		{"already classified", store.ErrNotFound, store.IsNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError("op", tc.err); !tc.check(got) {
				t.Fatalf("mapError(%v) = %v", tc.err, got)
			}
		})
	}
	if got := mapError("op", context.DeadlineExceeded); !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("context errors must pass through, got %v", got)
	}
}

func TestToFloat32s(t *testing.T) {
	got := toFloat32s([]any{0.5, int64(1), -0.25})
	if !reflect.DeepEqual(got, []float32{0.5, 1, -0.25}) {
		t.Fatalf("toFloat32s = %v", got)
	}
	if toFloat32s([]any{"x"}) != nil {
		t.Fatal("non-numeric values must reject the vector")
	}
}
