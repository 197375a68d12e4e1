package rank

import (
	"sort"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
)

type arc struct {
	to       string
	relation string
}

// adjacency builds an undirected view of the traversed edges. Repeated
// triples, which the store does not prevent, are folded so that they do not
// count as independent evidence.
func adjacency(edges []common.TraversedEdge) map[string][]arc {
	seen := make(map[common.Triple]struct{}, len(edges))
	adj := make(map[string][]arc)
	for _, e := range edges {
		t := e.Triple()
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		adj[e.Source] = append(adj[e.Source], arc{to: e.Target, relation: e.Relation})
		if e.Source != e.Target {
			adj[e.Target] = append(adj[e.Target], arc{to: e.Source, relation: e.Relation})
		}
	}
	for node := range adj {
		arcs := adj[node]
		sort.Slice(arcs, func(i, j int) bool {
			if arcs[i].to != arcs[j].to {
				return arcs[i].to < arcs[j].to
			}
			return arcs[i].relation < arcs[j].relation
		})
	}
	return adj
}

type pathLimits struct {
	maxHops     int
	perTarget   int
	maxFrontier int
	baseWeight  float64
}

type partialPath struct {
	nodes     []string
	relations []string
}

func (p partialPath) visits(node string) bool {
	for _, n := range p.nodes {
		if n == node {
			return true
		}
	}
	return false
}

// findPaths enumerates simple paths from start, level by level, and returns
// those ending at a wanted node. Shorter paths are always found before
// longer ones, so the per-candidate cap drops the weakest evidence first.
// truncated reports whether the frontier budget cut the search short.
func findPaths(adj map[string][]arc, start string, wanted map[string]struct{}, lim pathLimits) (map[string][]common.Path, bool) {
	found := make(map[string][]common.Path)
	frontier := []partialPath{{nodes: []string{start}}}
	truncated := false

	for hop := 1; hop <= lim.maxHops && len(frontier) > 0; hop++ {
		var next []partialPath
		for _, p := range frontier {
			last := p.nodes[len(p.nodes)-1]
			for _, a := range adj[last] {
				if p.visits(a.to) {
					continue
				}
				ext := partialPath{
					nodes:     append(append(make([]string, 0, len(p.nodes)+1), p.nodes...), a.to),
					relations: append(append(make([]string, 0, len(p.relations)+1), p.relations...), a.relation),
				}
				if _, ok := wanted[a.to]; ok && (lim.perTarget <= 0 || len(found[a.to]) < lim.perTarget) {
					found[a.to] = append(found[a.to], common.Path{
						Nodes:     ext.nodes,
						Relations: ext.relations,
						Hops:      hop,
						Score:     lim.baseWeight / float64(hop),
					})
				}
				if hop < lim.maxHops {
					next = append(next, ext)
				}
			}
		}
		if lim.maxFrontier > 0 && len(next) > lim.maxFrontier {
			next = next[:lim.maxFrontier]
			truncated = true
		}
		frontier = next
	}
	return found, truncated
}

// graphScore sums the path scores, capped at 1.
func graphScore(paths []common.Path) float64 {
	total := 0.0
	for _, p := range paths {
		total += p.Score
	}
	return min(total, 1.0)
}

func pathKey(p common.Path) string {
	var b strings.Builder
	for i, n := range p.Nodes {
		if i > 0 {
			b.WriteString("\x00")
			b.WriteString(p.Relations[i-1])
			b.WriteString("\x00")
		}
		b.WriteString(n)
	}
	return b.String()
}

// sortPaths orders evidence strongest first with a stable textual tie-break.
func sortPaths(paths []common.Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Hops != paths[j].Hops {
			return paths[i].Hops < paths[j].Hops
		}
		return pathKey(paths[i]) < pathKey(paths[j])
	})
}
