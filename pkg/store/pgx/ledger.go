package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const upsertDocumentSQL = `
INSERT INTO document_metadata (document_id, document_type, source_filename, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (document_id) DO UPDATE
SET document_type   = EXCLUDED.document_type,
    source_filename = EXCLUDED.source_filename,
    updated_at      = EXCLUDED.updated_at
`

const getDocumentSQL = `
SELECT document_id, document_type, source_filename, updated_at
FROM document_metadata
WHERE document_id = $1
`

const jobColumns = `document_id, batch_number, range_start, range_end, status, attempt_count,
       last_error, handle, entities_created, relationships_created, duration_ms, updated_at`

const lockJobSQL = `
SELECT ` + jobColumns + `
FROM batch_jobs
WHERE document_id = $1 AND range_start = $2 AND range_end = $3
FOR UPDATE
`

const upsertJobSQL = `
INSERT INTO batch_jobs (document_id, batch_number, range_start, range_end, status, attempt_count,
                        last_error, handle, entities_created, relationships_created, duration_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (document_id, range_start, range_end) DO UPDATE
SET batch_number          = EXCLUDED.batch_number,
    status                = EXCLUDED.status,
    attempt_count         = EXCLUDED.attempt_count,
    last_error            = EXCLUDED.last_error,
    handle                = EXCLUDED.handle,
    entities_created      = EXCLUDED.entities_created,
    relationships_created = EXCLUDED.relationships_created,
    duration_ms           = EXCLUDED.duration_ms,
    updated_at            = EXCLUDED.updated_at
`

const listJobsSQL = `
SELECT ` + jobColumns + `
FROM batch_jobs
WHERE document_id = $1
ORDER BY range_start, range_end
`

func (s *GraphDBStorage) UpsertDocument(ctx context.Context, meta common.DocumentMetadata) error {
	if meta.DocumentID == "" {
		return store.Validation("document id is empty")
	}
	if _, err := s.conn.Exec(ctx, upsertDocumentSQL, meta.DocumentID, meta.DocumentType, meta.SourceFilename); err != nil {
		return mapError(fmt.Sprintf("upsert document %q", meta.DocumentID), err)
	}
	return nil
}

func (s *GraphDBStorage) GetDocument(ctx context.Context, documentID string) (common.DocumentMetadata, error) {
	var meta common.DocumentMetadata
	err := s.conn.QueryRow(ctx, getDocumentSQL, documentID).
		Scan(&meta.DocumentID, &meta.DocumentType, &meta.SourceFilename, &meta.UpdatedAt)
	if err != nil {
		return meta, mapError(fmt.Sprintf("document %q", documentID), err)
	}
	return meta, nil
}

// RecordJob locks the existing row for the range, checks the transition and
// writes the new state in the same transaction.
func (s *GraphDBStorage) RecordJob(ctx context.Context, job common.BatchJob) error {
	if job.DocumentID == "" {
		return store.Validation("batch job has no document id")
	}
	op := fmt.Sprintf("record batch %d of %q", job.Number, job.DocumentID)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return mapError(op, err)
	}
	defer tx.Rollback(ctx)

	var prev *common.BatchJob
	existing, err := scanJob(tx.QueryRow(ctx, lockJobSQL, job.DocumentID, job.Range.Start, job.Range.End))
	switch {
	case err == nil:
		prev = &existing
	case errors.Is(err, pgxv5.ErrNoRows):
	default:
		return mapError(op, err)
	}
	if err := store.ValidateJobTransition(prev, job); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, upsertJobSQL,
		job.DocumentID, job.Number, job.Range.Start, job.Range.End, string(job.Status), job.AttemptCount,
		job.LastError, job.Handle, job.EntitiesCreated, job.RelationshipsCreated, job.Duration.Milliseconds(),
	)
	if err != nil {
		return mapError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *GraphDBStorage) ListJobs(ctx context.Context, documentID string) ([]common.BatchJob, error) {
	rows, err := s.conn.Query(ctx, listJobsSQL, documentID)
	if err != nil {
		return nil, mapError("list jobs", err)
	}
	defer rows.Close()

	var out []common.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, mapError("scan job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list jobs", err)
	}
	return out, nil
}

func scanJob(row pgxv5.Row) (common.BatchJob, error) {
	var job common.BatchJob
	var status string
	var durationMs int64
	err := row.Scan(
		&job.DocumentID, &job.Number, &job.Range.Start, &job.Range.End, &status, &job.AttemptCount,
		&job.LastError, &job.Handle, &job.EntitiesCreated, &job.RelationshipsCreated, &durationMs, &job.UpdatedAt,
	)
	if err != nil {
		return job, err
	}
	job.Status = common.BatchStatus(status)
	job.Duration = time.Duration(durationMs) * time.Millisecond
	return job, nil
}
