package resolve

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(s *memory.Store, name string, rels int) {
	s.AddEntity(common.Entity{Name: name, Type: "Candidate"})
	for i := range rels {
		s.AddRelationship(common.Relationship{
			Source:   name,
			Target:   fmt.Sprintf("skill-%s-%d", name, i),
			Relation: "has_skill",
			Weight:   1,
		})
	}
}

func newTestResolver(t *testing.T, s *memory.Store, cfg Config) *Resolver {
	t.Helper()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r, err := New(s, cfg,
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() (string, error) { return "plan-1", nil }),
	)
	require.NoError(t, err)
	return r
}

func TestIdentifyDuplicates_CandidateCluster(t *testing.T) {
	s := memory.New()
	seed(s, "CV_004", 19)
	seed(s, "Cv_004", 3)
	seed(s, "Candidate CV_004", 5)
	seed(s, "CV_007", 4)

	r := newTestResolver(t, s, DefaultConfig())
	plan, err := r.IdentifyDuplicates(context.Background(), r.DefaultScope())
	require.NoError(t, err)

	require.Len(t, plan.Operations, 1)
	op := plan.Operations[0]
	assert.Equal(t, "CV_004", op.Identifier)
	assert.Equal(t, "CV_004", op.CanonicalName)
	assert.Equal(t, []string{"Cv_004", "Candidate CV_004"}, op.VariantNames)
	assert.Equal(t, reasonHighestCount, op.Reason)
	assert.Equal(t, map[string]int{"CV_004": 19, "Cv_004": 3, "Candidate CV_004": 5}, op.RelationshipCounts)

	assert.Equal(t, "plan-1", plan.ID)
	assert.Equal(t, 4, plan.Stats.EntitiesScanned)
	assert.Equal(t, 1, plan.Stats.CaseClusters)
	assert.Equal(t, 1, plan.Stats.PrefixClusters)
	assert.Equal(t, 2, plan.Stats.VariantsToMerge)
}

func TestIdentifyDuplicates_IsIdempotentAfterMerge(t *testing.T) {
	s := memory.New()
	seed(s, "CV_004", 19)
	seed(s, "Cv_004", 3)
	seed(s, "Candidate CV_004", 5)

	r := newTestResolver(t, s, DefaultConfig())
	plan, err := r.IdentifyDuplicates(context.Background(), r.DefaultScope())
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)

	op := plan.Operations[0]
	_, err = s.MergeEntities(context.Background(), op.CanonicalName, op.VariantNames)
	require.NoError(t, err)

	again, err := r.IdentifyDuplicates(context.Background(), r.DefaultScope())
	require.NoError(t, err)
	assert.Empty(t, again.Operations)
	assert.Equal(t, 27, s.RelationshipCount("CV_004"))
}

func TestPlan_TieBreakPolicies(t *testing.T) {
	entities := []common.Entity{
		{Name: "Candidate CV_010", RelationshipCount: 6},
		{Name: "CV_010", RelationshipCount: 6},
	}

	tests := []struct {
		policy    TieBreak
		canonical string
		variants  []string
	}{
		// "CV_010" sorts before "Candidate CV_010" byte-wise, so both agree.
		{TieBreakLexical, "CV_010", []string{"Candidate CV_010"}},
		{TieBreakPreferBare, "CV_010", []string{"Candidate CV_010"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.policy), func(t *testing.T) {
			r := newTestResolver(t, memory.New(), Config{TieBreak: tc.policy})
			ops, stats := r.Plan(entities)
			require.Len(t, ops, 1)
			assert.Equal(t, tc.canonical, ops[0].CanonicalName)
			assert.Equal(t, tc.variants, ops[0].VariantNames)
			assert.Equal(t, "tie-break:"+string(tc.policy), ops[0].Reason)
			assert.Equal(t, 1, stats.TieBreaksResolved)
		})
	}
}

func TestPlan_LexicalTieBreakPrefersByteOrder(t *testing.T) {
	entities := []common.Entity{
		{Name: "Candidate Cv 3", RelationshipCount: 2},
		{Name: "cv_3", RelationshipCount: 2},
	}

	lexical := newTestResolver(t, memory.New(), Config{TieBreak: TieBreakLexical})
	ops, _ := lexical.Plan(entities)
	require.Len(t, ops, 1)
	assert.Equal(t, "Candidate Cv 3", ops[0].CanonicalName)

	bare := newTestResolver(t, memory.New(), Config{TieBreak: TieBreakPreferBare})
	ops, _ = bare.Plan(entities)
	require.Len(t, ops, 1)
	assert.Equal(t, "cv_3", ops[0].CanonicalName)
}

func TestPlan_CaseOnlyTieIsDeterministic(t *testing.T) {
	entities := []common.Entity{
		{Name: "a", RelationshipCount: 10},
		{Name: "A", RelationshipCount: 10},
	}
	r := newTestResolver(t, memory.New(), DefaultConfig())

	for range 20 {
		ops, _ := r.Plan(entities)
		require.Len(t, ops, 1)
		assert.Equal(t, "A", ops[0].CanonicalName)
		assert.Equal(t, []string{"a"}, ops[0].VariantNames)
		assert.Equal(t, "a", ops[0].Identifier)
	}
}

func TestPlan_ZeroRelationshipEntitiesStillMerge(t *testing.T) {
	entities := []common.Entity{
		{Name: "CV_021", RelationshipCount: 0},
		{Name: "cv 021", RelationshipCount: 0},
	}
	r := newTestResolver(t, memory.New(), DefaultConfig())
	ops, _ := r.Plan(entities)
	require.Len(t, ops, 1)
	assert.Equal(t, "CV_021", ops[0].CanonicalName)
	assert.Equal(t, []string{"cv 021"}, ops[0].VariantNames)
}

func TestPlan_NoDuplicates(t *testing.T) {
	entities := []common.Entity{
		{Name: "CV_001", RelationshipCount: 3},
		{Name: "CV_002", RelationshipCount: 1},
	}
	r := newTestResolver(t, memory.New(), DefaultConfig())
	ops, stats := r.Plan(entities)
	assert.Empty(t, ops)
	assert.Equal(t, 2, stats.EntitiesScanned)
	assert.Zero(t, stats.Operations)
}

func TestPlan_SeparatorNormalization(t *testing.T) {
	entities := []common.Entity{
		{Name: "Cloud Architect", RelationshipCount: 8},
		{Name: "cloud-architect", RelationshipCount: 1},
		{Name: "CLOUD_ARCHITECT", RelationshipCount: 2},
	}

	off := newTestResolver(t, memory.New(), DefaultConfig())
	ops, _ := off.Plan(entities)
	assert.Empty(t, ops)

	cfg := DefaultConfig()
	cfg.NormalizeSeparators = true
	on := newTestResolver(t, memory.New(), cfg)
	ops, _ = on.Plan(entities)
	require.Len(t, ops, 1)
	assert.Equal(t, "Cloud Architect", ops[0].CanonicalName)
	assert.Equal(t, []string{"CLOUD_ARCHITECT", "cloud-architect"}, ops[0].VariantNames)
}

func TestPlan_RenameCanonical(t *testing.T) {
	entities := []common.Entity{
		{Name: "Cv_12", RelationshipCount: 9},
		{Name: "cv 12", RelationshipCount: 1},
	}
	cfg := DefaultConfig()
	cfg.RenameCanonical = true
	r := newTestResolver(t, memory.New(), cfg)

	ops, _ := r.Plan(entities)
	require.Len(t, ops, 1)
	assert.Equal(t, "Cv_12", ops[0].CanonicalName)
	assert.Equal(t, "CV_12", ops[0].RenameTo)
}

func TestPlan_OperationsSortedByIdentifier(t *testing.T) {
	entities := []common.Entity{
		{Name: "CV_2", RelationshipCount: 1},
		{Name: "cv_2", RelationshipCount: 0},
		{Name: "CV_1", RelationshipCount: 1},
		{Name: "cv_1", RelationshipCount: 0},
	}
	r := newTestResolver(t, memory.New(), DefaultConfig())
	ops, _ := r.Plan(entities)
	require.Len(t, ops, 2)
	assert.Equal(t, "CV_1", ops[0].Identifier)
	assert.Equal(t, "CV_2", ops[1].Identifier)
}

func TestNew_RejectsUnknownTieBreak(t *testing.T) {
	_, err := New(memory.New(), Config{TieBreak: "random"})
	assert.Error(t, err)
}

func TestKeyMatcher(t *testing.T) {
	m, err := newKeyMatcher(DefaultKeyPattern())
	require.NoError(t, err)

	tests := []struct {
		name      string
		key       string
		qualified bool
		ok        bool
	}{
		{"CV_004", "CV_004", false, true},
		{"cv 004", "CV_004", false, true},
		{"Cv004", "CV_004", false, true},
		{"Candidate CV_004", "CV_004", true, true},
		{"candidate  cv_004", "CV_004", true, true},
		{"CV_004 backup", "", false, false},
		{"Cloud Architect", "", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, qualified, ok := m.identifier(tc.name)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.qualified, qualified)
		})
	}
}
