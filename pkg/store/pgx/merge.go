package pgx

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

const lockClusterSQL = `
SELECT id, name, type, description
FROM entities
WHERE name = ANY($1::text[])
ORDER BY id
FOR UPDATE
`

const insertCanonicalSQL = `
INSERT INTO entities (name, type, description)
VALUES ($1, $2, $3)
RETURNING id
`

// dropSelfLoopsSQL removes edges between two cluster members that touch at
// least one variant.
const dropSelfLoopsSQL = `
DELETE FROM relationships
WHERE source_id = ANY($2::bigint[]) AND target_id = ANY($2::bigint[])
  AND (source_id = ANY($1::bigint[]) OR target_id = ANY($1::bigint[]))
`

// collapseDuplicatesSQL removes variant edges whose rewritten triple already
// exists on an untouched edge or on an earlier variant edge.
const collapseDuplicatesSQL = `
WITH moved AS (
    SELECT r.id,
           CASE WHEN r.source_id = ANY($1::bigint[]) THEN $2::bigint ELSE r.source_id END AS source_id,
           CASE WHEN r.target_id = ANY($1::bigint[]) THEN $2::bigint ELSE r.target_id END AS target_id,
           r.relation
    FROM relationships r
    WHERE r.source_id = ANY($1::bigint[]) OR r.target_id = ANY($1::bigint[])
), ranked AS (
    SELECT m.id,
           row_number() OVER (PARTITION BY m.source_id, m.target_id, m.relation ORDER BY m.id) AS rn,
           EXISTS (
               SELECT 1 FROM relationships k
               WHERE k.source_id = m.source_id AND k.target_id = m.target_id AND k.relation = m.relation
           ) AS taken
    FROM moved m
)
DELETE FROM relationships r
USING ranked d
WHERE r.id = d.id AND (d.taken OR d.rn > 1)
`

const moveEdgesSQL = `
UPDATE relationships
SET source_id = CASE WHEN source_id = ANY($1::bigint[]) THEN $2::bigint ELSE source_id END,
    target_id = CASE WHEN target_id = ANY($1::bigint[]) THEN $2::bigint ELSE target_id END
WHERE source_id = ANY($1::bigint[]) OR target_id = ANY($1::bigint[])
`

const deleteVariantsSQL = `DELETE FROM entities WHERE id = ANY($1::bigint[])`

type clusterRow struct {
	id          int64
	name        string
	typ         string
	description string
}

// MergeEntities folds the variants into canonical inside one transaction.
// The cluster rows are locked first so concurrent merges touching the same
// names serialize on the database rather than interleave.
func (s *GraphDBStorage) MergeEntities(ctx context.Context, canonical string, variants []string) (store.MergeResult, error) {
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

	op := fmt.Sprintf("merge into %q", canonical)
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return res, mapError(op, err)
	}
	defer tx.Rollback(ctx)

	names := append([]string{canonical}, variants...)
	rows, err := tx.Query(ctx, lockClusterSQL, names)
	if err != nil {
		return res, mapError(op, err)
	}
	byName := make(map[string]clusterRow, len(names))
	for rows.Next() {
		var r clusterRow
		if err := rows.Scan(&r.id, &r.name, &r.typ, &r.description); err != nil {
			rows.Close()
			return res, mapError(op, err)
		}
		byName[r.name] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, mapError(op, err)
	}

	var variantIDs []int64
	for _, v := range variants {
		r, ok := byName[v]
		if !ok {
			res.VariantsMissing = append(res.VariantsMissing, v)
			continue
		}
		variantIDs = append(variantIDs, r.id)
		res.VariantsMerged = append(res.VariantsMerged, v)
	}
	if len(variantIDs) == 0 {
		return res, fmt.Errorf("variants of %q: %w", canonical, store.ErrNotFound)
	}

	target, ok := byName[canonical]
	if !ok {
		first := byName[res.VariantsMerged[0]]
		if err := tx.QueryRow(ctx, insertCanonicalSQL, canonical, first.typ, first.description).Scan(&target.id); err != nil {
			return res, mapError(op, err)
		}
		logger.Debug("[Store] Created missing canonical", "canonical", canonical, "from", first.name)
	}
	clusterIDs := append([]int64{target.id}, variantIDs...)

	tag, err := tx.Exec(ctx, dropSelfLoopsSQL, variantIDs, clusterIDs)
	if err != nil {
		return res, mapError(op, err)
	}
	res.SelfLoopsDropped = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, collapseDuplicatesSQL, variantIDs, target.id)
	if err != nil {
		return res, mapError(op, err)
	}
	res.DuplicateEdgesCollapsed = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, moveEdgesSQL, variantIDs, target.id)
	if err != nil {
		return res, mapError(op, err)
	}
	res.RelationshipsTransferred = int(tag.RowsAffected())

	if _, err := tx.Exec(ctx, deleteVariantsSQL, variantIDs); err != nil {
		return res, mapError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return res, mapError(op, err)
	}

	sort.Strings(res.VariantsMerged)
	return res, nil
}
