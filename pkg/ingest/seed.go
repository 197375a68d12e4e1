package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

const (
	TypeCandidate       = "candidate"
	TypeDomain          = "domain"
	TypeProfile         = "profile"
	TypeExperienceLevel = "experience-level"
)

// CandidateProfile is the classification attached to an ingested resume.
type CandidateProfile struct {
	Label           string `json:"candidate_label"`
	RoleDomain      string `json:"role_domain"`
	JobTitle        string `json:"job_title"`
	ExperienceLevel string `json:"experience_level"`
}

type SeedStats struct {
	EntitiesCreated  int                          `json:"entities_created"`
	EntitiesExisting int                          `json:"entities_existing"`
	Relationships    store.RelationshipWriteStats `json:"relationships"`
}

func (s *SeedStats) add(o SeedStats) {
	s.EntitiesCreated += o.EntitiesCreated
	s.EntitiesExisting += o.EntitiesExisting
	s.Relationships.Created += o.Relationships.Created
	s.Relationships.Conflicts += o.Relationships.Conflicts
	s.Relationships.Suppressed += o.Relationships.Suppressed
	s.Relationships.Failed += o.Relationships.Failed
}

// Seeder creates typed candidate entities next to the extracted graph so
// ranking has explicit domain, profile and experience anchors. Shared
// relationships (domain includes profile, profile requires level) repeat for
// every candidate of the same profile; the per-run triple set keeps them to
// one store call each.
type Seeder struct {
	gs        store.GraphStore
	mu        sync.Mutex
	attempted *store.TripleSet
	total     SeedStats
}

func NewSeeder(gs store.GraphStore) *Seeder {
	return &Seeder{gs: gs, attempted: store.NewTripleSet()}
}

func (s *Seeder) Stats() SeedStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Seeder) SeedCandidate(ctx context.Context, p CandidateProfile) (SeedStats, error) {
	if err := store.ValidateName(p.Label); err != nil {
		return SeedStats{}, err
	}
	domain := orUnknown(p.RoleDomain)
	job := orUnknown(p.JobTitle)
	level := orUnknown(p.ExperienceLevel)

	var stats SeedStats
	entities := []common.Entity{
		{Name: p.Label, Type: TypeCandidate, Description: fmt.Sprintf("%s / %s / %s", domain, job, level)},
		{Name: domain, Type: TypeDomain, Description: domain},
		{Name: job, Type: TypeProfile, Description: job},
		{Name: level, Type: TypeExperienceLevel, Description: level},
	}
	for _, e := range entities {
		created, err := s.ensureEntity(ctx, e)
		if err != nil {
			return stats, err
		}
		if created {
			stats.EntitiesCreated++
		} else {
			stats.EntitiesExisting++
		}
	}

	rels := []common.Relationship{
		{Source: p.Label, Target: domain, Relation: "works_in", Weight: 1},
		{Source: p.Label, Target: job, Relation: "has_job_title", Weight: 1},
		{Source: p.Label, Target: level, Relation: "has_experience_level", Weight: 1},
		{Source: domain, Target: job, Relation: "includes_job", Weight: 1},
		{Source: job, Target: level, Relation: "requires_level", Weight: 1},
	}
	for i := range rels {
		rels[i].Description = fmt.Sprintf("%s %s %s", rels[i].Source, rels[i].Relation, rels[i].Target)
	}

	s.mu.Lock()
	written, err := store.CreateRelationships(ctx, s.gs, s.attempted, rels)
	stats.Relationships = written
	s.total.add(stats)
	s.mu.Unlock()

	logger.Debug("[Ingest] Seeded candidate entities",
		"candidate", p.Label,
		"created", stats.EntitiesCreated,
		"relationships", written.Created,
		"suppressed", written.Suppressed,
	)
	return stats, err
}

func (s *Seeder) ensureEntity(ctx context.Context, e common.Entity) (bool, error) {
	exists, err := s.gs.EntityExists(ctx, e.Name)
	if err != nil {
		return false, fmt.Errorf("failed to check entity %q: %w", e.Name, err)
	}
	if exists {
		return false, nil
	}
	err = s.gs.CreateEntity(ctx, e.Name, e.Description, e.Type)
	switch {
	case err == nil:
		return true, nil
	case store.IsConflict(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to create %s entity %q: %w", e.Type, e.Name, err)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
