package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const createRelationshipCypher = `
MERGE (s:Entity {name: $source})
MERGE (t:Entity {name: $target})
WITH s, t
OPTIONAL MATCH (s)-[existing:RELATED {relation: $relation}]->(t)
WITH s, t, existing WHERE existing IS NULL
CREATE (s)-[r:RELATED {relation: $relation, weight: $weight, description: $description}]->(t)
RETURN count(r) AS created
`

// expandCypher returns every edge touching the frontier, in either
// direction, together with the node on the far side.
const expandCypher = `
UNWIND $frontier AS name
MATCH (:Entity {name: name})-[r:RELATED]-(b:Entity)
RETURN DISTINCT elementId(r) AS id,
       startNode(r).name AS source,
       endNode(r).name AS target,
       r.relation AS relation,
       coalesce(r.weight, 1.0) AS weight,
       coalesce(r.description, '') AS description,
       b.name AS far
ORDER BY source, target, relation
`

func (s *GraphStorage) CreateRelationship(ctx context.Context, rel common.Relationship) error {
	if err := store.ValidateName(rel.Source); err != nil {
		return err
	}
	if err := store.ValidateName(rel.Target); err != nil {
		return err
	}
	if rel.Relation == "" {
		return store.Validation("relation is empty for %s -> %s", rel.Source, rel.Target)
	}
	weight := rel.Weight
	if weight == 0 {
		weight = 1
	}
	params := map[string]any{
		"source":      rel.Source,
		"target":      rel.Target,
		"relation":    rel.Relation,
		"weight":      weight,
		"description": rel.Description,
	}
	created, err := s.writeCount(ctx, createRelationshipCypher, params, "created")
	if err != nil {
		return mapError(fmt.Sprintf("create relationship %s", rel.Triple()), err)
	}
	if created == 0 {
		return fmt.Errorf("relationship %s: %w", rel.Triple(), store.ErrConflict)
	}
	return nil
}

type expandedEdge struct {
	id  string
	rel common.Relationship
	far string
}

// TraverseRelationships expands the frontier one hop per query inside a
// single read transaction, emitting each edge at the hop it is first seen.
func (s *GraphStorage) TraverseRelationships(ctx context.Context, start string, maxHops int) ([]common.TraversedEdge, error) {
	if maxHops <= 0 {
		return nil, nil
	}
	out, err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		visited := map[string]struct{}{start: {}}
		emitted := make(map[string]struct{})
		frontier := []string{start}
		var edges []common.TraversedEdge

		for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
			records, err := collect(ctx, tx, expandCypher, map[string]any{"frontier": frontier})
			if err != nil {
				return nil, err
			}
			var next []string
			for _, rec := range records {
				e, err := decodeExpanded(rec)
				if err != nil {
					return nil, err
				}
				if _, done := emitted[e.id]; !done {
					emitted[e.id] = struct{}{}
					edges = append(edges, common.TraversedEdge{Relationship: e.rel, Hop: hop})
				}
				if _, seen := visited[e.far]; !seen {
					visited[e.far] = struct{}{}
					next = append(next, e.far)
				}
			}
			frontier = next
		}
		return edges, nil
	})
	if err != nil {
		return nil, mapError("traverse relationships", err)
	}
	return out.([]common.TraversedEdge), nil
}

func decodeExpanded(rec *neo4jv5.Record) (expandedEdge, error) {
	var e expandedEdge
	var err error
	if e.id, _, err = neo4jv5.GetRecordValue[string](rec, "id"); err != nil {
		return e, err
	}
	if e.rel.Source, _, err = neo4jv5.GetRecordValue[string](rec, "source"); err != nil {
		return e, err
	}
	if e.rel.Target, _, err = neo4jv5.GetRecordValue[string](rec, "target"); err != nil {
		return e, err
	}
	if e.rel.Relation, _, err = neo4jv5.GetRecordValue[string](rec, "relation"); err != nil {
		return e, err
	}
	e.rel.Weight, _, _ = neo4jv5.GetRecordValue[float64](rec, "weight")
	e.rel.Description, _, _ = neo4jv5.GetRecordValue[string](rec, "description")
	if e.far, _, err = neo4jv5.GetRecordValue[string](rec, "far"); err != nil {
		return e, err
	}
	return e, nil
}
