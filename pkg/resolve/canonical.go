package resolve

import (
	"fmt"
	"sort"
)

type TieBreak string

const (
	// TieBreakLexical picks the byte-wise smallest name among the entities
	// sharing the highest relationship count.
	TieBreakLexical TieBreak = "lexical"
	// TieBreakPreferBare lets a name without qualifier prefix win a count
	// tie, falling back to byte order between equals.
	TieBreakPreferBare TieBreak = "prefer-bare"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieBreakLexical, TieBreakPreferBare:
		return TieBreak(s), nil
	case "":
		return TieBreakPreferBare, nil
	}
	return "", fmt.Errorf("unknown tie-break policy %q (want %q or %q)", s, TieBreakLexical, TieBreakPreferBare)
}

const reasonHighestCount = "highest-count"

type member struct {
	name      string
	count     int
	qualified bool
	entityTyp string
}

// selectCanonical orders the cluster and returns the winner, the remaining
// members and the reason the winner was chosen. The order is fully
// determined by counts, the policy and the names themselves.
func selectCanonical(members []member, policy TieBreak) (member, []member, string) {
	sorted := make([]member, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.count != b.count {
			return a.count > b.count
		}
		if policy == TieBreakPreferBare && a.qualified != b.qualified {
			return !a.qualified
		}
		return a.name < b.name
	})

	reason := reasonHighestCount
	if len(sorted) > 1 && sorted[0].count == sorted[1].count {
		reason = "tie-break:" + string(policy)
	}
	return sorted[0], sorted[1:], reason
}

// orderVariants lists case variants of the canonical first, then the other
// members, each part in byte order.
func orderVariants(canonical member, rest []member) []string {
	canonicalFold := foldKey(canonical.name)
	var sameCase, other []string
	for _, m := range rest {
		if foldKey(m.name) == canonicalFold {
			sameCase = append(sameCase, m.name)
		} else {
			other = append(other, m.name)
		}
	}
	sort.Strings(sameCase)
	sort.Strings(other)
	return append(sameCase, other...)
}
