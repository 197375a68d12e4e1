package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const entityExistsCypher = `MATCH (e:Entity {name: $name}) RETURN count(e) > 0 AS exists`

const createEntityCypher = `
OPTIONAL MATCH (existing:Entity {name: $name})
WITH existing WHERE existing IS NULL
CREATE (e:Entity {name: $name, type: $type, description: $description})
RETURN count(e) AS created
`

const findEntitiesCypher = `
MATCH (e:Entity)
WHERE ($pattern = '' OR e.name =~ $pattern)
  AND (size($types) = 0 OR e.type IN $types)
RETURN e.name AS name,
       coalesce(e.type, '') AS type,
       coalesce(e.description, '') AS description,
       size([(e)-[:RELATED]-() | 1]) AS relationship_count
ORDER BY name
LIMIT $limit
`

const renameEntityCypher = `
MATCH (e:Entity {name: $name})
SET e.name = $new_name,
    e.type = CASE WHEN $type = '' THEN e.type ELSE $type END
RETURN count(e) AS renamed
`

const setEmbeddingCypher = `
MATCH (e:Entity {name: $name})
SET e.embedding = $embedding
RETURN count(e) AS updated
`

const embeddingsCypher = `
MATCH (e:Entity)
WHERE e.name IN $names AND e.embedding IS NOT NULL
RETURN e.name AS name, e.embedding AS embedding
`

const noLimit = int64(1) << 62

func (s *GraphStorage) EntityExists(ctx context.Context, name string) (bool, error) {
	out, err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, entityExistsCypher, map[string]any{"name": name})
		if err != nil || len(records) == 0 {
			return false, err
		}
		exists, _, err := neo4jv5.GetRecordValue[bool](records[0], "exists")
		return exists, err
	})
	if err != nil {
		return false, mapError("entity exists", err)
	}
	return out.(bool), nil
}

func (s *GraphStorage) CreateEntity(ctx context.Context, name, description, entityType string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	params := map[string]any{"name": name, "type": entityType, "description": description}
	created, err := s.writeCount(ctx, createEntityCypher, params, "created")
	if err != nil {
		return mapError(fmt.Sprintf("create entity %q", name), err)
	}
	if created == 0 {
		return fmt.Errorf("entity %q: %w", name, store.ErrConflict)
	}
	return nil
}

// FindEntities matches names with a case-insensitive Java regex. The
// pattern is wrapped so it behaves like a search rather than a full match.
func (s *GraphStorage) FindEntities(ctx context.Context, filter store.ScopeFilter) ([]common.Entity, error) {
	limit := noLimit
	if filter.Limit > 0 {
		limit = int64(filter.Limit)
	}
	types := filter.EntityTypes
	if types == nil {
		types = []string{}
	}
	params := map[string]any{
		"pattern": searchPattern(filter.NamePattern),
		"types":   types,
		"limit":   limit,
	}

	out, err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, findEntitiesCypher, params)
		if err != nil {
			return nil, err
		}
		entities := make([]common.Entity, 0, len(records))
		for _, rec := range records {
			name, _, err := neo4jv5.GetRecordValue[string](rec, "name")
			if err != nil {
				return nil, err
			}
			typ, _, _ := neo4jv5.GetRecordValue[string](rec, "type")
			desc, _, _ := neo4jv5.GetRecordValue[string](rec, "description")
			count, _, _ := neo4jv5.GetRecordValue[int64](rec, "relationship_count")
			entities = append(entities, common.Entity{
				Name:              name,
				Type:              typ,
				Description:       desc,
				RelationshipCount: int(count),
			})
		}
		return entities, nil
	})
	if err != nil {
		return nil, mapError("find entities", err)
	}
	return out.([]common.Entity), nil
}

func searchPattern(pattern string) string {
	if pattern == "" {
		return ""
	}
	return "(?is).*(?:" + pattern + ").*"
}

func (s *GraphStorage) RenameEntity(ctx context.Context, name, newName, entityType string) error {
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	params := map[string]any{"name": name, "new_name": newName, "type": entityType}
	renamed, err := s.writeCount(ctx, renameEntityCypher, params, "renamed")
	if err != nil {
		return mapError(fmt.Sprintf("rename entity %q", name), err)
	}
	if renamed == 0 {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	return nil
}

func (s *GraphStorage) SetEmbedding(ctx context.Context, name string, embedding []float32) error {
	if err := store.ValidateEmbedding(name, embedding); err != nil {
		return err
	}
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	updated, err := s.writeCount(ctx, setEmbeddingCypher, map[string]any{"name": name, "embedding": vec}, "updated")
	if err != nil {
		return mapError(fmt.Sprintf("set embedding %q", name), err)
	}
	if updated == 0 {
		return fmt.Errorf("entity %q: %w", name, store.ErrNotFound)
	}
	return nil
}

// VectorSimilarity loads the stored embeddings and scores them client side,
// so the result matches the cosine scale of the other stores.
func (s *GraphStorage) VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(candidates))
	if len(candidates) == 0 {
		return scores, nil
	}
	names := append([]string{target}, candidates...)
	out, err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, embeddingsCypher, map[string]any{"names": names})
		if err != nil {
			return nil, err
		}
		vectors := make(map[string][]float32, len(records))
		for _, rec := range records {
			name, _, err := neo4jv5.GetRecordValue[string](rec, "name")
			if err != nil {
				return nil, err
			}
			raw, _, err := neo4jv5.GetRecordValue[[]any](rec, "embedding")
			if err != nil {
				return nil, err
			}
			vectors[name] = toFloat32s(raw)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, mapError("vector similarity", err)
	}

	vectors := out.(map[string][]float32)
	for _, c := range candidates {
		if v, ok := store.CosineSimilarity(vectors[target], vectors[c]); ok {
			scores[c] = v
		}
	}
	return scores, nil
}

func toFloat32s(raw []any) []float32 {
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case int64:
			out = append(out, float32(n))
		default:
			return nil
		}
	}
	return out
}

// writeCount runs a write statement returning a single integer column.
func (s *GraphStorage) writeCount(ctx context.Context, query string, params map[string]any, key string) (int64, error) {
	out, err := s.write(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, query, params)
		if err != nil || len(records) == 0 {
			return int64(0), err
		}
		n, _, err := neo4jv5.GetRecordValue[int64](records[0], key)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}
