// Package rank scores candidate entities against a target by blending the
// store's vector similarity with evidence found by walking the graph.
package rank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	SignalVector = "vector"
	SignalGraph  = "graph"
)

type Config struct {
	// Alpha weights the vector signal: combined = α·vector + (1-α)·graph.
	Alpha      float64
	MaxHops    int
	TopK       int
	BaseWeight float64
	TierHigh   float64
	TierMedium float64
	// MaxPathsPerCandidate bounds the explanation attached to a candidate.
	MaxPathsPerCandidate int
	// MaxFrontier bounds the partial paths kept per hop level.
	MaxFrontier   int
	CandidateType string
}

func DefaultConfig() Config {
	return Config{
		Alpha:                0.5,
		MaxHops:              3,
		TopK:                 5,
		BaseWeight:           1.0,
		TierHigh:             0.7,
		TierMedium:           0.4,
		MaxPathsPerCandidate: 32,
		MaxFrontier:          50000,
		CandidateType:        "candidate",
	}
}

func (c Config) Validate() error {
	if c.Alpha < 0 || c.Alpha > 1 {
		return store.Validation("alpha %v outside [0,1]", c.Alpha)
	}
	if c.TierMedium > c.TierHigh {
		return store.Validation("medium tier %v above high tier %v", c.TierMedium, c.TierHigh)
	}
	if c.BaseWeight <= 0 {
		return store.Validation("base weight must be positive")
	}
	return nil
}

// Tier maps a combined score onto its confidence band.
func (c Config) Tier(score float64) common.ConfidenceTier {
	switch {
	case score >= c.TierHigh:
		return common.TierHigh
	case score >= c.TierMedium:
		return common.TierMedium
	default:
		return common.TierLow
	}
}

type Request struct {
	Target string
	// ExtraTargets contribute graph paths but no vector score, e.g. an
	// experience-level entity attached to a profile query.
	ExtraTargets []string
	// Candidates is the pool to rank. When empty, every entity of
	// CandidateType is ranked.
	Candidates    []string
	CandidateType string
	MaxHops       int
	TopK          int
	Alpha         *float64
	Tracer        Tracer
}

type Exclusion struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

type Result struct {
	Target     string                   `json:"target"`
	Alpha      float64                  `json:"alpha"`
	MaxHops    int                      `json:"max_hops"`
	PoolSize   int                      `json:"pool_size"`
	Candidates []common.RankedCandidate `json:"candidates"`
	Excluded   []Exclusion              `json:"excluded,omitempty"`
	// Truncated is set when the traversal hit its frontier budget, so some
	// long paths may be missing from the evidence.
	Truncated bool `json:"truncated,omitempty"`
}

type Engine struct {
	gs     store.GraphStore
	lister store.EntityLister
	cfg    Config
}

func NewEngine(gs store.GraphStore, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{gs: gs, cfg: cfg}
	if l, ok := gs.(store.EntityLister); ok {
		e.lister = l
	}
	return e, nil
}

// WithLister sets where candidate pools come from when a request names none.
func (e *Engine) WithLister(l store.EntityLister) *Engine {
	e.lister = l
	return e
}

func (e *Engine) Config() Config { return e.cfg }

type traversal struct {
	start string
	edges []common.TraversedEdge
	err   error
}

// Rank scores the candidate pool against the target and returns the top k.
// A candidate missing one signal is scored on the other and marked partial;
// a candidate missing both is excluded and listed with the reason.
func (e *Engine) Rank(ctx context.Context, req Request) (*Result, error) {
	if err := store.ValidateName(req.Target); err != nil {
		return nil, err
	}
	alpha := e.cfg.Alpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return nil, store.Validation("alpha %v outside [0,1]", alpha)
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = e.cfg.MaxHops
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	pool, err := e.candidatePool(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &Result{Target: req.Target, Alpha: alpha, MaxHops: maxHops, PoolSize: len(pool)}
	if len(pool) == 0 {
		return result, nil
	}

	var (
		vector    map[string]float64
		vectorErr error
	)
	starts := append([]string{req.Target}, store.DedupeStrings(req.ExtraTargets)...)
	traversals := make([]traversal, len(starts))

	g := new(errgroup.Group)
	g.Go(func() error {
		t0 := time.Now()
		vector, vectorErr = e.gs.VectorSimilarity(ctx, req.Target, pool)
		recordVectorLookup(req.Tracer, req.Target, len(pool), len(vector), time.Since(t0).Milliseconds(), vectorErr)
		return nil
	})
	for i, start := range starts {
		g.Go(func() error {
			t0 := time.Now()
			edges, err := e.gs.TraverseRelationships(ctx, start, maxHops)
			traversals[i] = traversal{start: start, edges: edges, err: err}
			recordTraversal(req.Tracer, start, len(edges), time.Since(t0).Milliseconds(), err)
			return nil
		})
	}
	_ = g.Wait()

	graphErr := traversals[0].err
	if vectorErr != nil && graphErr != nil {
		return nil, fmt.Errorf("failed to rank against %q: %w", req.Target, errors.Join(vectorErr, graphErr))
	}
	if vectorErr != nil {
		logger.Warn("[Rank] Vector lookup failed, ranking on graph evidence only", "target", req.Target, "err", vectorErr)
	}
	if graphErr != nil {
		logger.Warn("[Rank] Traversal failed, ranking on vector similarity only", "target", req.Target, "err", graphErr)
	}

	wanted := make(map[string]struct{}, len(pool))
	for _, c := range pool {
		wanted[c] = struct{}{}
	}
	lim := pathLimits{
		maxHops:     maxHops,
		perTarget:   e.cfg.MaxPathsPerCandidate,
		maxFrontier: e.cfg.MaxFrontier,
		baseWeight:  e.cfg.BaseWeight,
	}
	paths := make(map[string][]common.Path)
	for _, tr := range traversals {
		if tr.err != nil {
			if tr.start != req.Target {
				logger.Warn("[Rank] Traversal from secondary target failed", "start", tr.start, "err", tr.err)
			}
			continue
		}
		found, truncated := findPaths(adjacency(tr.edges), tr.start, wanted, lim)
		result.Truncated = result.Truncated || truncated
		for c, ps := range found {
			paths[c] = append(paths[c], ps...)
		}
	}

	for _, c := range pool {
		v, hasVector := vector[c]
		hasVector = hasVector && vectorErr == nil
		if hasVector && !store.FiniteScore(v) {
			logger.Debug("[Rank] Dropping non-finite vector score", "candidate", c, "score", v)
			hasVector = false
		}
		hasGraph := graphErr == nil

		if !hasVector && !hasGraph {
			reason := "no vector score and graph traversal failed"
			if vectorErr != nil {
				reason = "vector lookup and graph traversal both failed"
			}
			result.Excluded = append(result.Excluded, Exclusion{CandidateID: c, Reason: reason})
			recordExcluded(req.Tracer, c, reason)
			continue
		}

		rc := common.RankedCandidate{CandidateID: c}
		if hasVector {
			rc.VectorScore = clamp01(v)
		}
		if hasGraph {
			ps := paths[c]
			sortPaths(ps)
			if e.cfg.MaxPathsPerCandidate > 0 && len(ps) > e.cfg.MaxPathsPerCandidate {
				ps = ps[:e.cfg.MaxPathsPerCandidate]
			}
			rc.Paths = ps
			rc.GraphScore = graphScore(ps)
		}

		switch {
		case hasVector && hasGraph:
			rc.CombinedScore = alpha*rc.VectorScore + (1-alpha)*rc.GraphScore
		case hasVector:
			rc.CombinedScore = rc.VectorScore
			rc.Partial = true
			rc.MissingSignals = []string{SignalGraph}
		default:
			rc.CombinedScore = rc.GraphScore
			rc.Partial = true
			rc.MissingSignals = []string{SignalVector}
		}
		if rc.Partial {
			recordPartial(req.Tracer, c, rc.MissingSignals)
		}
		rc.Tier = e.cfg.Tier(rc.CombinedScore)
		result.Candidates = append(result.Candidates, rc)
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		return a.CandidateID < b.CandidateID
	})
	if len(result.Candidates) > topK {
		result.Candidates = result.Candidates[:topK]
	}

	logger.Debug("[Rank] Ranked candidates",
		"target", req.Target,
		"pool", len(pool),
		"returned", len(result.Candidates),
		"excluded", len(result.Excluded),
	)
	return result, nil
}

func (e *Engine) candidatePool(ctx context.Context, req Request) ([]string, error) {
	var pool []string
	if len(req.Candidates) > 0 {
		pool = store.DedupeStrings(req.Candidates)
	} else {
		if e.lister == nil {
			return nil, store.Validation("no candidates given and no entity lister configured")
		}
		typ := req.CandidateType
		if typ == "" {
			typ = e.cfg.CandidateType
		}
		entities, err := e.lister.FindEntities(ctx, store.ScopeFilter{EntityTypes: []string{typ}})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s entities: %w", typ, err)
		}
		for _, ent := range entities {
			pool = append(pool, ent.Name)
		}
		pool = store.DedupeStrings(pool)
	}

	out := pool[:0]
	for _, c := range pool {
		if c == req.Target {
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func clamp01(v float64) float64 {
	if !store.FiniteScore(v) {
		return 0
	}
	return max(0, min(1, v))
}
