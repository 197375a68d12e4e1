// Package memory is an in-process implementation of every store contract.
// It backs the unit tests of the resolver, merge, ranking and ingestion
// packages and the CLI's offline mode.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

const (
	OpEntityExists          = "EntityExists"
	OpCreateEntity          = "CreateEntity"
	OpCreateRelationship    = "CreateRelationship"
	OpMergeEntities         = "MergeEntities"
	OpVectorSimilarity      = "VectorSimilarity"
	OpTraverseRelationships = "TraverseRelationships"
	OpFindEntities          = "FindEntities"
	OpRenameEntity          = "RenameEntity"
	OpSetEmbedding          = "SetEmbedding"
)

type jobKey struct {
	documentID string
	r          common.ChunkRange
}

type Store struct {
	mu sync.Mutex

	entities   map[string]common.Entity
	edges      []common.Relationship
	similarity map[string]map[string]float64
	embeddings map[string][]float32
	docs       map[string]common.DocumentMetadata
	jobs       map[jobKey]common.BatchJob

	failures map[string][]error
	calls    map[string]int
}

var (
	_ store.GraphStore      = (*Store)(nil)
	_ store.EntityLister    = (*Store)(nil)
	_ store.EntityRenamer   = (*Store)(nil)
	_ store.EmbeddingWriter = (*Store)(nil)
	_ store.MetadataIndex   = (*Store)(nil)
	_ store.JobLedger       = (*Store)(nil)
)

func New() *Store {
	return &Store{
		entities:   make(map[string]common.Entity),
		similarity: make(map[string]map[string]float64),
		embeddings: make(map[string][]float32),
		docs:       make(map[string]common.DocumentMetadata),
		jobs:       make(map[jobKey]common.BatchJob),
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
// A nil entry lets that call through.
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter must be called with s.mu held.
func (s *Store) enter(op string) error {
	s.calls[op]++
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.failures[op] = queue[1:]
	return err
}

// AddEntity inserts or replaces an entity without any checks, the way raw
// extraction output lands in the store.
func (s *Store) AddEntity(e common.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.RelationshipCount = 0
	s.entities[e.Name] = e
}

// AddRelationship appends an edge without duplicate detection, creating
// missing endpoints as untyped entities.
func (s *Store) AddRelationship(rel common.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureEntity(rel.Source)
	s.ensureEntity(rel.Target)
	s.edges = append(s.edges, rel)
}

func (s *Store) ensureEntity(name string) {
	if _, ok := s.entities[name]; !ok {
		s.entities[name] = common.Entity{Name: name}
	}
}

func (s *Store) SetSimilarity(target, candidate string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.similarity[target] == nil {
		s.similarity[target] = make(map[string]float64)
	}
	s.similarity[target][candidate] = score
}

// Entities returns a snapshot sorted by name, with relationship counts.
func (s *Store) Entities() []common.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		e.RelationshipCount = s.relationshipCount(e.Name)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Relationships() []common.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.edges)
}

func (s *Store) RelationshipCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relationshipCount(name)
}

func (s *Store) relationshipCount(name string) int {
	n := 0
	for _, e := range s.edges {
		if e.Source == name || e.Target == name {
			n++
		}
	}
	return n
}

func (s *Store) EntityExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEntityExists); err != nil {
		return false, err
	}
	_, ok := s.entities[name]
	return ok, nil
}

func (s *Store) CreateEntity(ctx context.Context, name, description, entityType string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateEntity); err != nil {
		return err
	}
	if _, ok := s.entities[name]; ok {
		return fmt.Errorf("entity %q: %w", name, store.ErrConflict)
	}
	s.entities[name] = common.Entity{Name: name, Description: description, Type: entityType}
	return nil
}

func (s *Store) CreateRelationship(ctx context.Context, rel common.Relationship) error {
	if err := store.ValidateName(rel.Source); err != nil {
		return err
	}
	if err := store.ValidateName(rel.Target); err != nil {
		return err
	}
	if rel.Relation == "" {
		return store.Validation("relation is empty for %s -> %s", rel.Source, rel.Target)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateRelationship); err != nil {
		return err
	}
	for _, e := range s.edges {
		if e.Triple() == rel.Triple() {
			return fmt.Errorf("relationship %s: %w", rel.Triple(), store.ErrConflict)
		}
	}
	s.ensureEntity(rel.Source)
	s.ensureEntity(rel.Target)
	s.edges = append(s.edges, rel)
	return nil
}

func (s *Store) MergeEntities(ctx context.Context, canonical string, variants []string) (store.MergeResult, error) {
	var res store.MergeResult
	if err := store.ValidateName(canonical); err != nil {
		return res, err
	}
	if len(variants) == 0 {
		return res, store.Validation("no variants to merge into %q", canonical)
	}
	for _, v := range variants {
		if err := store.ValidateName(v); err != nil {
			return res, err
		}
		if v == canonical {
			return res, store.Validation("variant %q equals canonical", v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMergeEntities); err != nil {
		return res, err
	}

	present := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if _, ok := s.entities[v]; ok {
			present[v] = struct{}{}
			res.VariantsMerged = append(res.VariantsMerged, v)
		} else {
			res.VariantsMissing = append(res.VariantsMissing, v)
		}
	}
	if len(present) == 0 {
		return res, fmt.Errorf("variants of %q: %w", canonical, store.ErrNotFound)
	}
	if _, ok := s.entities[canonical]; !ok {
		first := s.entities[res.VariantsMerged[0]]
		s.entities[canonical] = common.Entity{Name: canonical, Type: first.Type, Description: first.Description}
	}

	seen := make(map[common.Triple]struct{})
	for _, e := range s.edges {
		_, srcVariant := present[e.Source]
		_, tgtVariant := present[e.Target]
		if !srcVariant && !tgtVariant {
			seen[e.Triple()] = struct{}{}
		}
	}

	kept := s.edges[:0]
	for _, e := range s.edges {
		_, srcVariant := present[e.Source]
		_, tgtVariant := present[e.Target]
		if !srcVariant && !tgtVariant {
			kept = append(kept, e)
			continue
		}
		if srcVariant {
			e.Source = canonical
		}
		if tgtVariant {
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
		kept = append(kept, e)
	}
	s.edges = kept

	for v := range present {
		delete(s.entities, v)
		delete(s.embeddings, v)
	}
	sort.Strings(res.VariantsMerged)
	return res, nil
}

func (s *Store) RenameEntity(ctx context.Context, name, newName, entityType string) error {
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRenameEntity); err != nil {
		return err
	}
	e, ok := s.entities[name]
	if !ok {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	if name != newName {
		if _, taken := s.entities[newName]; taken {
			return fmt.Errorf("entity %q: %w", newName, store.ErrConflict)
		}
	}
	delete(s.entities, name)
	if emb, ok := s.embeddings[name]; ok {
		delete(s.embeddings, name)
		s.embeddings[newName] = emb
	}
	e.Name = newName
	if entityType != "" {
		e.Type = entityType
	}
	s.entities[newName] = e
	for i := range s.edges {
		if s.edges[i].Source == name {
			s.edges[i].Source = newName
		}
		if s.edges[i].Target == name {
			s.edges[i].Target = newName
		}
	}
	return nil
}

func (s *Store) VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpVectorSimilarity); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(candidates))
	scores := s.similarity[target]
	for _, c := range candidates {
		if v, ok := scores[c]; ok {
			out[c] = v
			continue
		}
		if v, ok := store.CosineSimilarity(s.embeddings[target], s.embeddings[c]); ok {
			out[c] = v
		}
	}
	return out, nil
}

// SetEmbedding stores a vector used when no explicit similarity is set.
func (s *Store) SetEmbedding(ctx context.Context, name string, embedding []float32) error {
	if err := store.ValidateEmbedding(name, embedding); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSetEmbedding); err != nil {
		return err
	}
	if _, ok := s.entities[name]; !ok {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	s.embeddings[name] = slices.Clone(embedding)
	return nil
}

func (s *Store) TraverseRelationships(ctx context.Context, start string, maxHops int) ([]common.TraversedEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpTraverseRelationships); err != nil {
		return nil, err
	}
	if _, ok := s.entities[start]; !ok || maxHops <= 0 {
		return nil, nil
	}

	return store.HopEdges(start, s.edges, maxHops), nil
}

func (s *Store) FindEntities(ctx context.Context, filter store.ScopeFilter) ([]common.Entity, error) {
	var re *regexp.Regexp
	if filter.NamePattern != "" {
		var err error
		re, err = regexp.Compile("(?i)" + filter.NamePattern)
		if err != nil {
			return nil, store.Validation("invalid name pattern %q: %v", filter.NamePattern, err)
		}
	}

	s.mu.Lock()
	if err := s.enter(OpFindEntities); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	var out []common.Entity
	for _, e := range s.Entities() {
		if re != nil && !re.MatchString(e.Name) {
			continue
		}
		if len(filter.EntityTypes) > 0 && !slices.Contains(filter.EntityTypes, e.Type) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpsertDocument(ctx context.Context, meta common.DocumentMetadata) error {
	if meta.DocumentID == "" {
		return store.Validation("document id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta.UpdatedAt = time.Now().UTC()
	s.docs[meta.DocumentID] = meta
	return nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (common.DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.docs[documentID]
	if !ok {
		return common.DocumentMetadata{}, fmt.Errorf("document %q: %w", documentID, store.ErrNotFound)
	}
	return meta, nil
}

func (s *Store) RecordJob(ctx context.Context, job common.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey{documentID: job.DocumentID, r: job.Range}
	var prev *common.BatchJob
	if existing, ok := s.jobs[key]; ok {
		prev = &existing
	}
	if err := store.ValidateJobTransition(prev, job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[key] = job
	return nil
}

func (s *Store) ListJobs(ctx context.Context, documentID string) ([]common.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.BatchJob
	for k, j := range s.jobs {
		if k.documentID == documentID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Range.Start < out[j].Range.Start })
	return out, nil
}
