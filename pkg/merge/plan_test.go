package merge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan_RepairsHandEditedJSON(t *testing.T) {
	// Trailing commas left behind after deleting an operation by hand.
	raw := `{
  "id": "abc",
  "tie_break": "prefer-bare",
  "operations": [
    {"entity_to_change_into": "CV_004", "entities_to_change": ["Cv_004", "Candidate CV_004",],},
  ],
}`
	plan, err := ParsePlan([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc", plan.ID)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, []string{"Cv_004", "Candidate CV_004"}, plan.Operations[0].VariantNames)
}

func TestParsePlan_AcceptsBareOperationList(t *testing.T) {
	raw := `[{"entity_to_change_into": "Cloud Architect", "entities_to_change": ["cloud architect"]}]`
	plan, err := ParsePlan([]byte(raw))
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, "Cloud Architect", plan.Operations[0].CanonicalName)
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name string
		ops  []common.MergeOperation
		ok   bool
	}{
		{
			name: "disjoint clusters",
			ops: []common.MergeOperation{
				{CanonicalName: "A", VariantNames: []string{"a"}},
				{CanonicalName: "B", VariantNames: []string{"b"}},
			},
			ok: true,
		},
		{
			name: "missing canonical",
			ops:  []common.MergeOperation{{VariantNames: []string{"a"}}},
		},
		{
			name: "no variants",
			ops:  []common.MergeOperation{{CanonicalName: "A"}},
		},
		{
			name: "variant shared by two operations",
			ops: []common.MergeOperation{
				{CanonicalName: "A", VariantNames: []string{"x"}},
				{CanonicalName: "B", VariantNames: []string{"x"}},
			},
		},
		{
			name: "canonical merged away elsewhere",
			ops: []common.MergeOperation{
				{CanonicalName: "A", VariantNames: []string{"B"}},
				{CanonicalName: "B", VariantNames: []string{"b"}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePlan(&common.MergePlan{Operations: tc.ops})
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, store.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestSaveAndLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	plan := &common.MergePlan{
		ID:        "p-7",
		CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TieBreak:  "lexical",
		Operations: []common.MergeOperation{{
			Identifier:         "CV_004",
			CanonicalName:      "CV_004",
			VariantNames:       []string{"Cv_004"},
			RelationshipCounts: map[string]int{"CV_004": 19, "Cv_004": 3},
			Reason:             "highest-count",
		}},
	}
	require.NoError(t, SavePlan(path, plan))

	loaded, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, plan, loaded)
}

func TestVerify_ReportsLeftovers(t *testing.T) {
	s := memory.New()
	s.AddEntity(common.Entity{Name: "CV_004"})
	s.AddEntity(common.Entity{Name: "Cv_004"})

	plan := &common.MergePlan{Operations: []common.MergeOperation{
		{Identifier: "CV_004", CanonicalName: "CV_004", VariantNames: []string{"Cv_004"}},
		{Identifier: "CV_005", CanonicalName: "CV_005", VariantNames: []string{"cv_005"}},
	}}
	report, err := Verify(context.Background(), s, plan)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []VerifyProblem{
		{Identifier: "CV_004", Entity: "Cv_004", Problem: "variant still present"},
		{Identifier: "CV_005", Entity: "CV_005", Problem: "canonical missing"},
	}, report.Problems)
}
