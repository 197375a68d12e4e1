package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const clusterNodesCypher = `
MATCH (e:Entity)
WHERE e.name IN $names
RETURN e.name AS name, coalesce(e.type, '') AS type, coalesce(e.description, '') AS description
`

const clusterEdgesCypher = `
MATCH (a:Entity)-[r:RELATED]->(b:Entity)
WHERE a.name IN $names OR b.name IN $names
RETURN a.name AS source, b.name AS target, r.relation AS relation,
       coalesce(r.weight, 1.0) AS weight, coalesce(r.description, '') AS description
`

const ensureCanonicalCypher = `
MERGE (c:Entity {name: $canonical})
ON CREATE SET c.type = $type, c.description = $description
`

const recreateEdgesCypher = `
UNWIND $moves AS m
MATCH (s:Entity {name: m.source}), (t:Entity {name: m.target})
CREATE (s)-[:RELATED {relation: m.relation, weight: m.weight, description: m.description}]->(t)
`

const deleteVariantsCypher = `
MATCH (v:Entity)
WHERE v.name IN $variants
DETACH DELETE v
`

type clusterNode struct {
	typ         string
	description string
}

// MergeEntities reads the cluster, plans the edge rewrite client side and
// applies it in the same write transaction. Variant nodes are removed with
// DETACH DELETE, which drops their original edges.
func (s *GraphStorage) MergeEntities(ctx context.Context, canonical string, variants []string) (store.MergeResult, error) {
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
	names := append([]string{canonical}, variants...)

	out, err := s.write(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		var res store.MergeResult
		nodes, err := readClusterNodes(ctx, tx, names)
		if err != nil {
			return nil, err
		}
		present := make(map[string]struct{}, len(variants))
		for _, v := range variants {
			if _, ok := nodes[v]; ok {
				present[v] = struct{}{}
				res.VariantsMerged = append(res.VariantsMerged, v)
			} else {
				res.VariantsMissing = append(res.VariantsMissing, v)
			}
		}
		if len(present) == 0 {
			return nil, fmt.Errorf("variants of %q: %w", canonical, store.ErrNotFound)
		}

		edges, err := readClusterEdges(ctx, tx, names)
		if err != nil {
			return nil, err
		}
		moves := store.PlanEdgeMoves(canonical, present, edges, &res)

		seed := nodes[res.VariantsMerged[0]]
		if _, err := collect(ctx, tx, ensureCanonicalCypher, map[string]any{
			"canonical":   canonical,
			"type":        seed.typ,
			"description": seed.description,
		}); err != nil {
			return nil, err
		}
		if len(moves) > 0 {
			rows := make([]map[string]any, 0, len(moves))
			for _, m := range moves {
				rows = append(rows, map[string]any{
					"source":      m.Source,
					"target":      m.Target,
					"relation":    m.Relation,
					"weight":      m.Weight,
					"description": m.Description,
				})
			}
			if _, err := collect(ctx, tx, recreateEdgesCypher, map[string]any{"moves": rows}); err != nil {
				return nil, err
			}
		}
		if _, err := collect(ctx, tx, deleteVariantsCypher, map[string]any{"variants": res.VariantsMerged}); err != nil {
			return nil, err
		}
		sort.Strings(res.VariantsMerged)
		return res, nil
	})
	if err != nil {
		return res, mapError(fmt.Sprintf("merge into %q", canonical), err)
	}
	return out.(store.MergeResult), nil
}

func readClusterNodes(ctx context.Context, tx neo4jv5.ManagedTransaction, names []string) (map[string]clusterNode, error) {
	records, err := collect(ctx, tx, clusterNodesCypher, map[string]any{"names": names})
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]clusterNode, len(records))
	for _, rec := range records {
		name, _, err := neo4jv5.GetRecordValue[string](rec, "name")
		if err != nil {
			return nil, err
		}
		typ, _, _ := neo4jv5.GetRecordValue[string](rec, "type")
		desc, _, _ := neo4jv5.GetRecordValue[string](rec, "description")
		nodes[name] = clusterNode{typ: typ, description: desc}
	}
	return nodes, nil
}

func readClusterEdges(ctx context.Context, tx neo4jv5.ManagedTransaction, names []string) ([]common.Relationship, error) {
	records, err := collect(ctx, tx, clusterEdgesCypher, map[string]any{"names": names})
	if err != nil {
		return nil, err
	}
	edges := make([]common.Relationship, 0, len(records))
	for _, rec := range records {
		var r common.Relationship
		if r.Source, _, err = neo4jv5.GetRecordValue[string](rec, "source"); err != nil {
			return nil, err
		}
		if r.Target, _, err = neo4jv5.GetRecordValue[string](rec, "target"); err != nil {
			return nil, err
		}
		if r.Relation, _, err = neo4jv5.GetRecordValue[string](rec, "relation"); err != nil {
			return nil, err
		}
		r.Weight, _, _ = neo4jv5.GetRecordValue[float64](rec, "weight")
		r.Description, _, _ = neo4jv5.GetRecordValue[string](rec, "description")
		edges = append(edges, r)
	}
	return edges, nil
}
