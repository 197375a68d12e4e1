package common

import (
	"fmt"
	"time"
)

// Entity represents a node in the knowledge graph. An entity can be a job
// profile, a domain, a skill, a candidate or an experience level.
//
// Name is the identity key exactly as stored. The store does not normalize
// case or whitespace, so two entities that denote the same real-world thing
// may coexist under different spellings until they are merged.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"entity_type"`
	Description string `json:"description,omitempty"`

	// RelationshipCount is derived from the edge set at read time and is
	// never written back.
	RelationshipCount int `json:"relationship_count"`
}

// Relationship represents a directed, typed edge between two entities
// identified by name.
type Relationship struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Relation    string  `json:"relation"`
	Weight      float64 `json:"weight,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Triple returns the identity of the relationship. Two relationships with
// the same triple are duplicates regardless of weight or description.
func (r Relationship) Triple() Triple {
	return Triple{Source: r.Source, Target: r.Target, Relation: r.Relation}
}

// Triple is the (source, target, relation) identity of a relationship.
type Triple struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

func (t Triple) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", t.Source, t.Relation, t.Target)
}

// TraversedEdge is a relationship reached during a bounded traversal. Hop is
// the distance of the edge from the traversal start: edges touching the start
// entity have hop 1.
type TraversedEdge struct {
	Relationship
	Hop int `json:"hop"`
}

// Chunk is an ordered text segment produced by the document segmentation
// service, together with its layout metadata.
type Chunk struct {
	ID         string         `json:"chunk_id"`
	Content    string         `json:"content"`
	Type       string         `json:"chunk_type,omitempty"`
	Page       int            `json:"page,omitempty"`
	Section    string         `json:"section,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	JobProfile string         `json:"job_profile,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChunkRange addresses a contiguous half-open slice [Start, End) of a
// document's chunks.
type ChunkRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r ChunkRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r ChunkRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Contains reports whether index i lies inside the range.
func (r ChunkRange) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Overlaps reports whether both ranges share at least one index.
func (r ChunkRange) Overlaps(o ChunkRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// DocumentMetadata is the bookkeeping record kept per ingested document.
type DocumentMetadata struct {
	DocumentID     string    `json:"document_id"`
	DocumentType   string    `json:"document_type"`
	SourceFilename string    `json:"source_filename"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}
