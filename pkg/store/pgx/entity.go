package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const entityExistsSQL = `SELECT EXISTS (SELECT 1 FROM entities WHERE name = $1)`

const createEntitySQL = `
INSERT INTO entities (name, type, description)
VALUES ($1, $2, $3)
`

const findEntitiesSQL = `
SELECT e.name, e.type, e.description,
       (SELECT count(*) FROM relationships r
         WHERE r.source_id = e.id OR r.target_id = e.id) AS relationship_count
FROM entities e
WHERE ($1 = '' OR e.name ~* $1)
  AND (cardinality($2::text[]) = 0 OR e.type = ANY($2::text[]))
ORDER BY e.name
LIMIT NULLIF($3::int, 0)
`

const renameEntitySQL = `
UPDATE entities
SET name = $2,
    type = COALESCE(NULLIF($3, ''), type),
    updated_at = now()
WHERE name = $1
`

const setEmbeddingSQL = `
UPDATE entities SET embedding = $2, updated_at = now() WHERE name = $1
`

const vectorSimilaritySQL = `
SELECT c.name, GREATEST(0, LEAST(1, 1 - (c.embedding <=> t.embedding))) AS score
FROM entities t
JOIN entities c ON c.name = ANY($2::text[])
WHERE t.name = $1
  AND t.embedding IS NOT NULL
  AND c.embedding IS NOT NULL
  AND (c.embedding <=> t.embedding) <> 'NaN'
`

func (s *GraphDBStorage) EntityExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, entityExistsSQL, name).Scan(&exists); err != nil {
		return false, mapError("entity exists", err)
	}
	return exists, nil
}

func (s *GraphDBStorage) CreateEntity(ctx context.Context, name, description, entityType string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	if _, err := s.conn.Exec(ctx, createEntitySQL, name, entityType, description); err != nil {
		return mapError(fmt.Sprintf("create entity %q", name), err)
	}
	return nil
}

// FindEntities evaluates the name pattern with PostgreSQL's case-insensitive
// regex operator.
func (s *GraphDBStorage) FindEntities(ctx context.Context, filter store.ScopeFilter) ([]common.Entity, error) {
	types := filter.EntityTypes
	if types == nil {
		types = []string{}
	}
	rows, err := s.conn.Query(ctx, findEntitiesSQL, filter.NamePattern, types, filter.Limit)
	if err != nil {
		return nil, mapError("find entities", err)
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		var e common.Entity
		var count int64
		if err := rows.Scan(&e.Name, &e.Type, &e.Description, &count); err != nil {
			return nil, mapError("scan entity", err)
		}
		e.RelationshipCount = int(count)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("find entities", err)
	}
	logger.Debug("[Store] Entities fetched", "pattern", filter.NamePattern, "count", len(out))
	return out, nil
}

func (s *GraphDBStorage) RenameEntity(ctx context.Context, name, newName, entityType string) error {
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, renameEntitySQL, name, newName, entityType)
	if err != nil {
		return mapError(fmt.Sprintf("rename entity %q", name), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) SetEmbedding(ctx context.Context, name string, embedding []float32) error {
	if err := store.ValidateEmbedding(name, embedding); err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, setEmbeddingSQL, name, pgvector.NewVector(embedding))
	if err != nil {
		return mapError(fmt.Sprintf("set embedding %q", name), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	return nil
}

// VectorSimilarity scores candidates by cosine similarity of their stored
// embeddings. Entities without an embedding are left out of the result.
func (s *GraphDBStorage) VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error) {
	out := make(map[string]float64, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, vectorSimilaritySQL, target, candidates)
	if err != nil {
		return nil, mapError("vector similarity", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var score float64
		if err := rows.Scan(&name, &score); err != nil {
			return nil, mapError("scan similarity", err)
		}
		if !store.FiniteScore(score) {
			continue
		}
		out[name] = score
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("vector similarity", err)
	}
	return out, nil
}
