// Package neo4j implements the graph contracts on a Neo4j database. Every
// entity is an :Entity node keyed by name and every relationship a :RELATED
// edge whose relation is stored as a property, since Cypher cannot take
// relationship types as parameters.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Params struct {
	URI      string
	User     string
	Password string
	Database string

	MaxPoolSize    int
	ConnectTimeout time.Duration
}

type GraphStorage struct {
	driver   neo4jv5.DriverWithContext
	database string
}

var (
	_ store.GraphStore      = (*GraphStorage)(nil)
	_ store.EntityLister    = (*GraphStorage)(nil)
	_ store.EntityRenamer   = (*GraphStorage)(nil)
	_ store.EmbeddingWriter = (*GraphStorage)(nil)
)

var schemaStatements = []string{
	`CREATE CONSTRAINT entity_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
	`CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)`,
}

// New opens a driver and verifies connectivity before returning.
func New(ctx context.Context, p Params) (*GraphStorage, error) {
	if p.URI == "" {
		return nil, errors.New("neo4j uri is empty")
	}
	if p.User == "" {
		p.User = "neo4j"
	}
	if p.MaxPoolSize <= 0 {
		p.MaxPoolSize = 50
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 10 * time.Second
	}

	driver, err := neo4jv5.NewDriverWithContext(p.URI, neo4jv5.BasicAuth(p.User, p.Password, ""), func(cfg *neo4jv5.Config) {
		cfg.MaxConnectionPoolSize = p.MaxPoolSize
		cfg.SocketConnectTimeout = p.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, store.Transient("neo4j connect", err)
	}
	return &GraphStorage{driver: driver, database: p.Database}, nil
}

func (s *GraphStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint the store relies on for
// conflict detection.
func (s *GraphStorage) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return mapError("ensure schema", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return mapError("ensure schema", err)
		}
	}
	logger.Debug("[Store] Neo4j schema ensured", "database", s.database)
	return nil
}

func (s *GraphStorage) session(ctx context.Context, mode neo4jv5.AccessMode) neo4jv5.SessionWithContext {
	return s.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *GraphStorage) read(ctx context.Context, work neo4jv5.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

func (s *GraphStorage) write(ctx context.Context, work neo4jv5.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// collect runs a statement and buffers every record.
func collect(ctx context.Context, tx neo4jv5.ManagedTransaction, query string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

// mapError translates driver failures onto the store error taxonomy. Errors
// that already carry a store classification pass through.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if store.IsNotFound(err) || store.IsConflict(err) || store.IsValidation(err) || store.IsTransient(err) {
		return err
	}
	var neoErr *neo4jv5.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case neoErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed":
			return fmt.Errorf("%s: %s: %w", op, neoErr.Msg, store.ErrConflict)
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError."):
			return store.Transient(op, err)
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Statement."):
			return store.Validation("%s: %s", op, neoErr.Msg)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if neo4jv5.IsConnectivityError(err) || neo4jv5.IsRetryable(err) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
