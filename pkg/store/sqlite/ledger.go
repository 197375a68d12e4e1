// Package sqlite keeps the document metadata index and the batch job ledger
// in a local SQLite file, for CLI runs without a PostgreSQL database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_metadata (
	document_id     TEXT PRIMARY KEY,
	document_type   TEXT NOT NULL DEFAULT '',
	source_filename TEXT NOT NULL DEFAULT '',
	updated_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_jobs (
	document_id           TEXT NOT NULL,
	batch_number          INTEGER NOT NULL,
	range_start           INTEGER NOT NULL,
	range_end             INTEGER NOT NULL,
	status                TEXT NOT NULL,
	attempt_count         INTEGER NOT NULL DEFAULT 0,
	last_error            TEXT NOT NULL DEFAULT '',
	handle                TEXT NOT NULL DEFAULT '',
	entities_created      INTEGER NOT NULL DEFAULT 0,
	relationships_created INTEGER NOT NULL DEFAULT 0,
	duration_ms           INTEGER NOT NULL DEFAULT 0,
	updated_at            TEXT NOT NULL,
	PRIMARY KEY (document_id, range_start, range_end)
);
`

const jobColumns = `document_id, batch_number, range_start, range_end, status, attempt_count,
	last_error, handle, entities_created, relationships_created, duration_ms, updated_at`

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ store.MetadataIndex = (*Ledger)(nil)
	_ store.JobLedger     = (*Ledger)(nil)
)

// Open creates the database file and its parent directory when missing.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init ledger schema: %w", err)
	}
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) UpsertDocument(ctx context.Context, meta common.DocumentMetadata) error {
	if meta.DocumentID == "" {
		return store.Validation("document id is empty")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO document_metadata (document_id, document_type, source_filename, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			document_type = excluded.document_type,
			source_filename = excluded.source_filename,
			updated_at = excluded.updated_at`,
		meta.DocumentID, meta.DocumentType, meta.SourceFilename, l.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %q: %w", meta.DocumentID, err)
	}
	return nil
}

func (l *Ledger) GetDocument(ctx context.Context, documentID string) (common.DocumentMetadata, error) {
	var meta common.DocumentMetadata
	var updated string
	err := l.db.QueryRowContext(ctx, `
		SELECT document_id, document_type, source_filename, updated_at
		FROM document_metadata WHERE document_id = ?`, documentID,
	).Scan(&meta.DocumentID, &meta.DocumentType, &meta.SourceFilename, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, fmt.Errorf("document %q: %w", documentID, store.ErrNotFound)
	}
	if err != nil {
		return meta, fmt.Errorf("failed to get document %q: %w", documentID, err)
	}
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return meta, nil
}

func (l *Ledger) RecordJob(ctx context.Context, job common.BatchJob) error {
	if job.DocumentID == "" {
		return store.Validation("batch job has no document id")
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	var prev *common.BatchJob
	existing, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE document_id = ? AND range_start = ? AND range_end = ?`,
		job.DocumentID, job.Range.Start, job.Range.End,
	))
	switch {
	case err == nil:
		prev = &existing
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("failed to read batch job: %w", err)
	}
	if err := store.ValidateJobTransition(prev, job); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, range_start, range_end) DO UPDATE SET
			batch_number = excluded.batch_number,
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			last_error = excluded.last_error,
			handle = excluded.handle,
			entities_created = excluded.entities_created,
			relationships_created = excluded.relationships_created,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		job.DocumentID, job.Number, job.Range.Start, job.Range.End, string(job.Status), job.AttemptCount,
		job.LastError, job.Handle, job.EntitiesCreated, job.RelationshipsCreated, job.Duration.Milliseconds(),
		l.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write batch job: %w", err)
	}
	return tx.Commit()
}

func (l *Ledger) ListJobs(ctx context.Context, documentID string) ([]common.BatchJob, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE document_id = ? ORDER BY range_start, range_end`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	defer rows.Close()

	var out []common.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (common.BatchJob, error) {
	var job common.BatchJob
	var status, updated string
	var durationMs int64
	err := row.Scan(
		&job.DocumentID, &job.Number, &job.Range.Start, &job.Range.End, &status, &job.AttemptCount,
		&job.LastError, &job.Handle, &job.EntitiesCreated, &job.RelationshipsCreated, &durationMs, &updated,
	)
	if err != nil {
		return job, err
	}
	job.Status = common.BatchStatus(status)
	job.Duration = time.Duration(durationMs) * time.Millisecond
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return job, nil
}
