package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

const ensureEndpointsSQL = `
INSERT INTO entities (name) VALUES ($1), ($2)
ON CONFLICT (name) DO NOTHING
`

const createRelationshipSQL = `
INSERT INTO relationships (source_id, target_id, relation, weight, description)
SELECT s.id, t.id, $3, $4, $5
FROM entities s, entities t
WHERE s.name = $1 AND t.name = $2
ON CONFLICT (source_id, target_id, relation) DO NOTHING
`

// traverseSQL walks the edge set in both directions. Each edge is reported
// once, at one more than the distance of its nearer endpoint.
const traverseSQL = `
WITH RECURSIVE walk(entity_id, hop) AS (
    SELECT id, 0 FROM entities WHERE name = $1
  UNION
    SELECT CASE WHEN r.source_id = w.entity_id THEN r.target_id ELSE r.source_id END, w.hop + 1
    FROM walk w
    JOIN relationships r ON r.source_id = w.entity_id OR r.target_id = w.entity_id
    WHERE w.hop + 1 < $2
), reach AS (
    SELECT entity_id, min(hop) AS hop FROM walk GROUP BY entity_id
)
SELECT s.name, t.name, r.relation, r.weight, r.description, min(x.hop) + 1 AS hop
FROM reach x
JOIN relationships r ON r.source_id = x.entity_id OR r.target_id = x.entity_id
JOIN entities s ON s.id = r.source_id
JOIN entities t ON t.id = r.target_id
GROUP BY r.id, s.name, t.name, r.relation, r.weight, r.description
ORDER BY hop, s.name, t.name, r.relation
LIMIT $3
`

// CreateRelationship creates missing endpoints and inserts the edge. An
// existing triple is reported as a conflict.
func (s *GraphDBStorage) CreateRelationship(ctx context.Context, rel common.Relationship) error {
	if err := store.ValidateName(rel.Source); err != nil {
		return err
	}
	if err := store.ValidateName(rel.Target); err != nil {
		return err
	}
	if rel.Relation == "" {
		return store.Validation("relation is empty for %s -> %s", rel.Source, rel.Target)
	}

	op := fmt.Sprintf("create relationship %s", rel.Triple())
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return mapError(op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ensureEndpointsSQL, rel.Source, rel.Target); err != nil {
		return mapError(op, err)
	}
	weight := rel.Weight
	if weight == 0 {
		weight = 1
	}
	tag, err := tx.Exec(ctx, createRelationshipSQL, rel.Source, rel.Target, rel.Relation, weight, rel.Description)
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relationship %s: %w", rel.Triple(), store.ErrConflict)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *GraphDBStorage) TraverseRelationships(ctx context.Context, start string, maxHops int) ([]common.TraversedEdge, error) {
	if maxHops <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, traverseSQL, start, maxHops, s.traversal)
	if err != nil {
		return nil, mapError("traverse relationships", err)
	}
	defer rows.Close()

	var out []common.TraversedEdge
	for rows.Next() {
		var e common.TraversedEdge
		var hop int32
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Weight, &e.Description, &hop); err != nil {
			return nil, mapError("scan traversed edge", err)
		}
		e.Hop = int(hop)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("traverse relationships", err)
	}
	return out, nil
}
