package pgx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the graph, metadata and ledger contracts on
// PostgreSQL with pgvector. Entities are keyed by their exact name and
// relationships by (source, target, relation).
type GraphDBStorage struct {
	conn      pgxIConn
	traversal int
}

var (
	_ store.GraphStore      = (*GraphDBStorage)(nil)
	_ store.EntityLister    = (*GraphDBStorage)(nil)
	_ store.EntityRenamer   = (*GraphDBStorage)(nil)
	_ store.EmbeddingWriter = (*GraphDBStorage)(nil)
	_ store.MetadataIndex   = (*GraphDBStorage)(nil)
	_ store.JobLedger       = (*GraphDBStorage)(nil)
)

type GraphDBStorageOption func(*GraphDBStorage)

// WithMaxTraversalEdges caps the number of edges a single traversal returns.
func WithMaxTraversalEdges(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.traversal = n
	}
}

// NewGraphDBStorageWithConnection wraps an existing pool, connection or
// transaction.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		traversal: 10000,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Connect opens a pool with the pgvector types registered on every
// connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Transient("ping", err)
	}
	return pool, nil
}

// mapError translates driver failures onto the store error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Detail, store.ErrConflict)
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Detail, store.ErrNotFound)
		case pgErr.Code == "2201B", pgErr.Code == "22P02", pgErr.Code == "23502", pgErr.Code == "23514":
			return store.Validation("%s: %s", op, pgErr.Message)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return store.Transient(op, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"):
			// connection exceptions and operator intervention (shutdown, cancel)
			return store.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
