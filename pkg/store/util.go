package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
)

// ChunkRange calls fn for each consecutive [start, end) window of at most
// chunkSize items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ValidateName rejects names no store accepts as an identity key.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Validation("entity name is empty")
	}
	if strings.ContainsRune(name, '\x00') {
		return Validation("entity name %q contains NUL", name)
	}
	return nil
}

// TripleSet remembers relationship triples already attempted within a single
// run. It is not safe for concurrent use; callers that fan out wrap it or
// give each worker its own.
type TripleSet struct {
	seen map[common.Triple]struct{}
}

func NewTripleSet() *TripleSet {
	return &TripleSet{seen: make(map[common.Triple]struct{})}
}

// Add records t and reports whether it was new.
func (s *TripleSet) Add(t common.Triple) bool {
	if _, ok := s.seen[t]; ok {
		return false
	}
	s.seen[t] = struct{}{}
	return true
}

func (s *TripleSet) Len() int { return len(s.seen) }

type RelationshipWriteStats struct {
	Created    int `json:"created"`
	Conflicts  int `json:"conflicts"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// CreateRelationships writes rels, skipping triples already in attempted and
// treating conflicts as success. Per-item failures are counted and the first
// one is returned after every relationship has been tried.
func CreateRelationships(
	ctx context.Context,
	gs GraphStore,
	attempted *TripleSet,
	rels []common.Relationship,
) (RelationshipWriteStats, error) {
	var stats RelationshipWriteStats
	var firstErr error
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if attempted != nil && !attempted.Add(rel.Triple()) {
			stats.Suppressed++
			continue
		}
		err := gs.CreateRelationship(ctx, rel)
		switch {
		case err == nil:
			stats.Created++
		case IsConflict(err):
			stats.Conflicts++
			logger.Debug("[Store] Relationship already exists", "triple", rel.Triple().String())
		default:
			stats.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to create relationship %s: %w", rel.Triple(), err)
			}
		}
	}
	return stats, firstErr
}

// ValidateJobTransition decides whether a ledger may replace prev with next
// for the same (document, range). Completed ranges are final. A failed or
// abandoned range may restart from pending, which is how resubmission begins
// a new attempt.
func ValidateJobTransition(prev *common.BatchJob, next common.BatchJob) error {
	if prev == nil {
		return nil
	}
	switch {
	case prev.Status == common.BatchCompleted:
		return fmt.Errorf("%w: range %s is already completed", common.ErrStatusRegression, next.Range)
	case prev.Status == common.BatchFailed && next.Status == common.BatchPending:
		return nil
	case next.Status == common.BatchPending && next.AttemptCount > prev.AttemptCount:
		// A new attempt after an interrupted run.
		return nil
	case prev.Status == next.Status && !prev.Status.IsTerminal():
		return nil
	case prev.Status.CanTransition(next.Status):
		return nil
	}
	return fmt.Errorf("%w: %s -> %s for range %s", common.ErrStatusRegression, prev.Status, next.Status, next.Range)
}

// ValidateEmbedding rejects vectors no cosine distance can be computed for:
// empty, non-finite or all-zero.
func ValidateEmbedding(name string, embedding []float32) error {
	if len(embedding) == 0 {
		return Validation("embedding for %q is empty", name)
	}
	var norm float64
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Validation("embedding for %q has non-finite components", name)
		}
		norm += f * f
	}
	if norm == 0 {
		return Validation("embedding for %q is a zero vector", name)
	}
	return nil
}

// FiniteScore reports whether a similarity score is usable for ranking.
func FiniteScore(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CosineSimilarity compares two embeddings, clamped to [0,1]. It reports
// false when the vectors cannot be compared.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return min(1, max(0, dot/(math.Sqrt(na)*math.Sqrt(nb)))), true
}

// PlanEdgeMoves rewrites every edge touching a present variant onto canonical
// and returns the edges to recreate. Self-loops and triples the canonical
// already carries are counted in res and dropped.
func PlanEdgeMoves(canonical string, present map[string]struct{}, edges []common.Relationship, res *MergeResult) []common.Relationship {
	touches := func(e common.Relationship) (bool, bool) {
		_, src := present[e.Source]
		_, tgt := present[e.Target]
		return src, tgt
	}

	seen := make(map[common.Triple]struct{})
	var touched []common.Relationship
	for _, e := range edges {
		src, tgt := touches(e)
		if !src && !tgt {
			seen[e.Triple()] = struct{}{}
			continue
		}
		touched = append(touched, e)
	}
	sort.SliceStable(touched, func(i, j int) bool {
		a, b := touched[i], touched[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Relation < b.Relation
	})

	var moves []common.Relationship
	for _, e := range touched {
		src, tgt := touches(e)
		if src {
			e.Source = canonical
		}
		if tgt {
			e.Target = canonical
		}
		if e.Source == e.Target {
			res.SelfLoopsDropped++
			continue
		}
		if _, dup := seen[e.Triple()]; dup {
			res.DuplicateEdgesCollapsed++
			continue
		}
		seen[e.Triple()] = struct{}{}
		res.RelationshipsTransferred++
		moves = append(moves, e)
	}
	return moves
}

// HopEdges walks edges breadth-first from start, following them in both
// directions, and tags each reachable edge with the hop it was first seen at.
func HopEdges(start string, edges []common.Relationship, maxHops int) []common.TraversedEdge {
	incident := make(map[string][]int)
	for i, e := range edges {
		incident[e.Source] = append(incident[e.Source], i)
		if e.Target != e.Source {
			incident[e.Target] = append(incident[e.Target], i)
		}
	}

	visited := map[string]struct{}{start: {}}
	emitted := make(map[int]struct{})
	frontier := []string{start}
	var out []common.TraversedEdge
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			for _, idx := range incident[node] {
				if _, done := emitted[idx]; done {
					continue
				}
				emitted[idx] = struct{}{}
				e := edges[idx]
				out = append(out, common.TraversedEdge{Relationship: e, Hop: hop})
				other := e.Target
				if other == node {
					other = e.Source
				}
				if _, ok := visited[other]; !ok {
					visited[other] = struct{}{}
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return out
}
