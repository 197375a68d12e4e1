package resolve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Config struct {
	Pattern  KeyPattern
	TieBreak TieBreak
	// NormalizeSeparators also clusters names that only differ by
	// underscores, hyphens or spaces (profile and domain names).
	NormalizeSeparators bool
	// RenameCanonical asks the executor to respell a winning canonical that
	// differs from its normalized identifier key.
	RenameCanonical bool
}

func DefaultConfig() Config {
	return Config{
		Pattern:  DefaultKeyPattern(),
		TieBreak: TieBreakPreferBare,
	}
}

// Resolver detects lexically divergent duplicates and plans merges.
type Resolver struct {
	lister  store.EntityLister
	cfg     Config
	matcher *keyMatcher
	now     func() time.Time
	newID   func() (string, error)
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Resolver) { r.newID = fn }
}

func New(lister store.EntityLister, cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakPreferBare
	}
	if _, err := ParseTieBreak(string(cfg.TieBreak)); err != nil {
		return nil, err
	}
	if cfg.Pattern.Stem == "" {
		cfg.Pattern = DefaultKeyPattern()
	}
	m, err := newKeyMatcher(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		lister:  lister,
		cfg:     cfg,
		matcher: m,
		now:     time.Now,
		newID:   func() (string, error) { return gonanoid.New() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// DefaultScope selects every member of the configured identifier family.
func (r *Resolver) DefaultScope() store.ScopeFilter {
	return store.ScopeFilter{NamePattern: r.cfg.Pattern.ScopePattern()}
}

// IdentifyDuplicates fetches the entities in scope and returns a merge plan.
// It never mutates the store.
func (r *Resolver) IdentifyDuplicates(ctx context.Context, scope store.ScopeFilter) (*common.MergePlan, error) {
	if r.lister == nil {
		return nil, fmt.Errorf("resolver has no entity source")
	}
	entities, err := r.lister.FindEntities(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entities in scope: %w", err)
	}

	ops, stats := r.Plan(entities)

	id, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan id: %w", err)
	}
	plan := &common.MergePlan{
		ID:         id,
		CreatedAt:  r.now().UTC(),
		Scope:      scope.NamePattern,
		TieBreak:   string(r.cfg.TieBreak),
		Operations: ops,
		Stats:      stats,
	}

	logger.Info("[Resolve] Merge plan identified",
		"plan", plan.ID,
		"entities", stats.EntitiesScanned,
		"operations", stats.Operations,
		"variants", stats.VariantsToMerge,
		"tie_breaks", stats.TieBreaksResolved,
	)
	return plan, nil
}

// Plan computes one merge operation per duplicate cluster. It is a pure
// function of the entity pool: the same input yields the same operations in
// the same order.
func (r *Resolver) Plan(entities []common.Entity) ([]common.MergeOperation, common.PlanStats) {
	stats := common.PlanStats{}

	members := make(map[string]member, len(entities))
	idents := make(map[string]string)
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		key, qualified, ok := r.matcher.identifier(e.Name)
		m := member{name: e.Name, count: e.RelationshipCount, qualified: qualified, entityTyp: e.Type}
		if prev, dup := members[e.Name]; dup && prev.count >= m.count {
			continue
		}
		members[e.Name] = m
		if ok {
			idents[e.Name] = key
		}
	}
	stats.EntitiesScanned = len(members)

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	caseGroups := make(map[string][]string)
	identGroups := make(map[string][]string)
	sepGroups := make(map[string][]string)
	for _, name := range names {
		caseGroups[foldKey(name)] = append(caseGroups[foldKey(name)], name)
		if key, ok := idents[name]; ok {
			identGroups[key] = append(identGroups[key], name)
		}
		if r.cfg.NormalizeSeparators {
			sepGroups[separatorKey(name)] = append(sepGroups[separatorKey(name)], name)
		}
	}

	ds := newDisjointSet()
	for _, name := range names {
		ds.add(name)
	}
	for _, group := range caseGroups {
		if len(group) > 1 {
			stats.CaseClusters++
			ds.unionAll(group)
		}
	}
	for _, group := range identGroups {
		if len(group) < 2 {
			continue
		}
		hasQualified := false
		for _, name := range group {
			if members[name].qualified {
				hasQualified = true
				break
			}
		}
		if hasQualified {
			stats.PrefixClusters++
		}
		ds.unionAll(group)
	}
	for _, group := range sepGroups {
		if len(group) > 1 {
			ds.unionAll(group)
		}
	}

	var ops []common.MergeOperation
	for _, component := range ds.components() {
		cluster := make([]member, len(component))
		for i, name := range component {
			cluster[i] = members[name]
		}

		canonical, rest, reason := selectCanonical(cluster, r.cfg.TieBreak)
		if reason != reasonHighestCount {
			stats.TieBreaksResolved++
		}

		counts := make(map[string]int, len(cluster))
		for _, m := range cluster {
			counts[m.name] = m.count
		}

		op := common.MergeOperation{
			Identifier:         r.clusterIdentifier(component, idents, canonical),
			CanonicalName:      canonical.name,
			VariantNames:       orderVariants(canonical, rest),
			RelationshipCounts: counts,
			Reason:             reason,
			EntityType:         canonical.entityTyp,
		}
		if key, ok := idents[canonical.name]; ok && r.cfg.RenameCanonical && key != canonical.name {
			op.RenameTo = key
		}
		ops = append(ops, op)
		stats.VariantsToMerge += len(op.VariantNames)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Identifier == ops[j].Identifier {
			return ops[i].CanonicalName < ops[j].CanonicalName
		}
		return ops[i].Identifier < ops[j].Identifier
	})
	stats.Operations = len(ops)
	return ops, stats
}

func (r *Resolver) clusterIdentifier(component []string, idents map[string]string, canonical member) string {
	var keys []string
	seen := make(map[string]struct{})
	for _, name := range component {
		key, ok := idents[name]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return foldKey(canonical.name)
	}
	sort.Strings(keys)
	if len(keys) > 1 {
		logger.Warn("[Resolve] Cluster spans several identifiers", "identifiers", keys, "canonical", canonical.name)
	}
	return keys[0]
}
