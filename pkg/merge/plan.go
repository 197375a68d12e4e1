package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

// LoadPlan reads a plan file written by the identify step, possibly edited
// by hand since.
func LoadPlan(path string) (*common.MergePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read merge plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a plan object or a bare list of operations and validates
// it. Minor JSON damage such as trailing commas is repaired.
func ParsePlan(data []byte) (*common.MergePlan, error) {
	input := strings.TrimSpace(string(data))
	plan := &common.MergePlan{}
	if strings.HasPrefix(input, "[") {
		var ops []common.MergeOperation
		if err := util.UnmarshalFlexible(input, &ops); err != nil {
			return nil, fmt.Errorf("failed to decode merge operations: %w", err)
		}
		plan.Operations = ops
	} else if err := util.UnmarshalFlexible(input, plan); err != nil {
		return nil, fmt.Errorf("failed to decode merge plan: %w", err)
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// WritePlan encodes plan as indented JSON.
func WritePlan(w io.Writer, plan *common.MergePlan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(plan); err != nil {
		return fmt.Errorf("failed to encode merge plan: %w", err)
	}
	return nil
}

func SavePlan(path string, plan *common.MergePlan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	if err := WritePlan(f, plan); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ValidateOperation(op common.MergeOperation) error {
	if err := store.ValidateName(op.CanonicalName); err != nil {
		return err
	}
	if len(op.VariantNames) == 0 {
		return store.Validation("operation for %q has no variants", op.CanonicalName)
	}
	seen := make(map[string]struct{}, len(op.VariantNames))
	for _, v := range op.VariantNames {
		if err := store.ValidateName(v); err != nil {
			return err
		}
		if v == op.CanonicalName {
			return store.Validation("variant %q equals its canonical", v)
		}
		if _, dup := seen[v]; dup {
			return store.Validation("variant %q listed twice for %q", v, op.CanonicalName)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// ValidatePlan checks every operation and that clusters are disjoint: no
// name may be a variant in two operations or a variant in one and the
// canonical of another.
func ValidatePlan(plan *common.MergePlan) error {
	if plan == nil {
		return store.Validation("merge plan is nil")
	}
	var problems []string
	owner := make(map[string]int)
	for i, op := range plan.Operations {
		if err := ValidateOperation(op); err != nil {
			problems = append(problems, fmt.Sprintf("operation %d: %v", i, err))
			continue
		}
		for _, name := range op.Names() {
			if prev, ok := owner[name]; ok && prev != i {
				problems = append(problems, fmt.Sprintf("operation %d: %q already belongs to operation %d", i, name, prev))
				continue
			}
			owner[name] = i
		}
	}
	if len(problems) > 0 {
		return store.Validation("%d problem(s) in merge plan: %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}

type VerifyProblem struct {
	Identifier string `json:"identifier,omitempty"`
	Entity     string `json:"entity"`
	Problem    string `json:"problem"`
}

type VerifyReport struct {
	Checked  int             `json:"checked"`
	Problems []VerifyProblem `json:"problems,omitempty"`
}

func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// Verify checks the store against an executed plan: every canonical (or
// its rename target) exists and no variant does.
func Verify(ctx context.Context, gs store.GraphStore, plan *common.MergePlan) (*VerifyReport, error) {
	report := &VerifyReport{}
	for _, op := range plan.Operations {
		report.Checked++
		final := op.CanonicalName
		if op.RenameTo != "" {
			renamed, err := gs.EntityExists(ctx, op.RenameTo)
			if err != nil {
				return report, fmt.Errorf("failed to check entity %q: %w", op.RenameTo, err)
			}
			if renamed {
				final = op.RenameTo
			}
		}

		ok, err := gs.EntityExists(ctx, final)
		if err != nil {
			return report, fmt.Errorf("failed to check entity %q: %w", final, err)
		}
		if !ok {
			report.Problems = append(report.Problems, VerifyProblem{Identifier: op.Identifier, Entity: final, Problem: "canonical missing"})
		}

		for _, v := range op.VariantNames {
			if v == final {
				continue
			}
			exists, err := gs.EntityExists(ctx, v)
			if err != nil {
				return report, fmt.Errorf("failed to check entity %q: %w", v, err)
			}
			if exists {
				report.Problems = append(report.Problems, VerifyProblem{Identifier: op.Identifier, Entity: v, Problem: "variant still present"})
			}
		}
	}
	return report, nil
}
