package store

import (
	"context"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
)

// GraphStore is the contract the resolver, the merge engine and the ranking
// engine need from the external vector+graph store. Implementations map
// their native failures onto the error taxonomy in errors.go.
type GraphStore interface {
	EntityExists(ctx context.Context, name string) (bool, error)
	CreateEntity(ctx context.Context, name, description, entityType string) error
	// CreateRelationship returns an error matching ErrConflict when the
	// (source, target, relation) triple already exists.
	CreateRelationship(ctx context.Context, rel common.Relationship) error
	// MergeEntities folds every variant into canonical, moving their edges
	// and deleting them. It returns an error matching ErrNotFound when none
	// of the variants exists anymore.
	MergeEntities(ctx context.Context, canonical string, variants []string) (MergeResult, error)
	// VectorSimilarity returns scores in [0,1]. Candidates the store could
	// not score are absent from the map.
	VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error)
	// TraverseRelationships returns every edge reachable from start within
	// maxHops, each tagged with its hop distance. Edges are followed in both
	// directions.
	TraverseRelationships(ctx context.Context, start string, maxHops int) ([]common.TraversedEdge, error)
}

type MergeResult struct {
	RelationshipsTransferred int `json:"relationships_transferred"`
	// DuplicateEdgesCollapsed counts edges dropped because the canonical
	// already had the same triple.
	DuplicateEdgesCollapsed int `json:"duplicate_edges_collapsed"`
	// SelfLoopsDropped counts edges that connected two members of the
	// cluster and would have become canonical -> canonical.
	SelfLoopsDropped int      `json:"self_loops_dropped"`
	VariantsMerged   []string `json:"variants_merged"`
	VariantsMissing  []string `json:"variants_missing,omitempty"`
}

// EntityLister fetches the entity pool the resolver scans, with relationship
// counts aggregated over the edge set.
type EntityLister interface {
	FindEntities(ctx context.Context, filter ScopeFilter) ([]common.Entity, error)
}

// EntityRenamer renames an entity in place, keeping its edges.
type EntityRenamer interface {
	RenameEntity(ctx context.Context, name, newName, entityType string) error
}

// EmbeddingWriter stores a precomputed embedding for an entity. Stores that
// score similarity themselves compare these vectors.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, name string, embedding []float32) error
}

// ScopeFilter selects entities by a case-insensitive name pattern (POSIX
// compatible subset: anchors, classes, \s and \d) and optional types.
type ScopeFilter struct {
	NamePattern string   `json:"name_pattern,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

type ExtractionStatus string

const (
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// SubmittedText is a single chunk as handed to the extraction service.
type SubmittedText struct {
	Text       string `json:"text"`
	FileSource string `json:"file_source"`
}

type BatchStatusReport struct {
	Status               ExtractionStatus `json:"status"`
	EntitiesCreated      int              `json:"entities_created"`
	RelationshipsCreated int              `json:"relationships_created"`
	Error                string           `json:"error,omitempty"`
}

// ExtractionService is the black-box entity/relationship extractor.
type ExtractionService interface {
	SubmitBatch(ctx context.Context, documentID string, r common.ChunkRange, texts []SubmittedText) (string, error)
	PollStatus(ctx context.Context, handle string) (BatchStatusReport, error)
}

// MetadataIndex is a keyed side record per document with upsert semantics.
type MetadataIndex interface {
	UpsertDocument(ctx context.Context, meta common.DocumentMetadata) error
	GetDocument(ctx context.Context, documentID string) (common.DocumentMetadata, error)
}

// JobLedger persists batch job transitions so ingestion can resume.
type JobLedger interface {
	RecordJob(ctx context.Context, job common.BatchJob) error
	ListJobs(ctx context.Context, documentID string) ([]common.BatchJob, error)
}
