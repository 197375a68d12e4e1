package common

import "time"

// MergeOperation folds every variant into the canonical entity. Operations
// are immutable once written; re-running canonicalization produces a fresh
// set rather than editing an existing one.
type MergeOperation struct {
	Identifier         string         `json:"identifier" jsonschema:"description=Normalized key shared by every name in the cluster"`
	CanonicalName      string         `json:"entity_to_change_into" jsonschema:"required,minLength=1"`
	VariantNames       []string       `json:"entities_to_change" jsonschema:"required,minItems=1"`
	RelationshipCounts map[string]int `json:"relationship_counts"`
	Reason             string         `json:"reason,omitempty" jsonschema:"description=Why the canonical won: highest-count or tie-break:<policy>"`
	RenameTo           string         `json:"rename_to,omitempty" jsonschema:"description=Optional spelling applied to the canonical after merging"`
	EntityType         string         `json:"entity_type,omitempty"`
}

// Names returns the canonical followed by the variants.
func (op MergeOperation) Names() []string {
	out := make([]string, 0, len(op.VariantNames)+1)
	out = append(out, op.CanonicalName)
	return append(out, op.VariantNames...)
}

// TotalRelationships sums the recorded relationship counts over the whole
// cluster as observed when the plan was created.
func (op MergeOperation) TotalRelationships() int {
	total := 0
	for _, n := range op.RelationshipCounts {
		total += n
	}
	return total
}

type PlanStats struct {
	EntitiesScanned   int `json:"entities_scanned"`
	CaseClusters      int `json:"case_clusters"`
	PrefixClusters    int `json:"prefix_clusters"`
	Operations        int `json:"operations"`
	VariantsToMerge   int `json:"variants_to_merge"`
	TieBreaksResolved int `json:"tie_breaks_resolved"`
}

// MergePlan is the materialized, reviewable output of the identify step.
type MergePlan struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Scope      string           `json:"scope,omitempty"`
	TieBreak   string           `json:"tie_break"`
	Operations []MergeOperation `json:"operations"`
	Stats      PlanStats        `json:"stats"`
}
