// Package backends opens the graph store, job ledger and extraction service
// a process was configured with.
package backends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/ingest"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/cache"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/lightrag"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/neo4j"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/pgx"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	GraphPostgres = "postgres"
	GraphNeo4j    = "neo4j"
	GraphLightRAG = "lightrag"
	GraphMemory   = "memory"

	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

type Params struct {
	Graph  string `mapstructure:"graph"`
	Ledger string `mapstructure:"ledger"`

	DatabaseURL       string `mapstructure:"database_url"`
	SQLitePath        string `mapstructure:"sqlite_path"`
	MaxTraversalEdges int    `mapstructure:"max_traversal_edges"`

	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	Neo4jDatabase string `mapstructure:"neo4j_database"`

	LightRAGURL      string  `mapstructure:"lightrag_url"`
	LightRAGKey      string  `mapstructure:"lightrag_key"`
	LightRAGRPS      float64 `mapstructure:"lightrag_rps"`
	LightRAGMaxNodes int     `mapstructure:"lightrag_max_nodes"`
	LightRAGLookups  int     `mapstructure:"lightrag_lookups"`

	// RedisAddr enables the similarity cache when set.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

func ParamsFromEnv() Params {
	return Params{
		Graph:             util.GetEnvString("GRAPH_BACKEND", GraphPostgres),
		Ledger:            util.GetEnvString("LEDGER_BACKEND", LedgerPostgres),
		DatabaseURL:       util.GetEnv("DATABASE_URL"),
		SQLitePath:        util.GetEnvString("SQLITE_PATH", "data/ledger.db"),
		MaxTraversalEdges: util.GetEnvInt("MAX_TRAVERSAL_EDGES", 10000),
		Neo4jURI:          util.GetEnv("NEO4J_URI"),
		Neo4jUser:         util.GetEnvString("NEO4J_USER", "neo4j"),
		Neo4jPassword:     util.GetEnv("NEO4J_PASSWORD"),
		Neo4jDatabase:     util.GetEnv("NEO4J_DATABASE"),
		LightRAGURL:       util.GetEnvString("LIGHTRAG_URL", "http://localhost:9621"),
		LightRAGKey:       util.GetEnv("LIGHTRAG_API_KEY"),
		LightRAGRPS:       util.GetEnvNumeric("LIGHTRAG_RPS", 10),
		LightRAGMaxNodes:  util.GetEnvInt("LIGHTRAG_MAX_NODES", 1000),
		LightRAGLookups:   util.GetEnvInt("LIGHTRAG_LOOKUPS", 4),
		RedisAddr:         util.GetEnv("REDIS_ADDR"),
		RedisPassword:     util.GetEnv("REDIS_PASSWORD"),
		RedisDB:           util.GetEnvInt("REDIS_DB", 0),
		CacheTTL:          util.GetEnvDuration("CACHE_TTL", time.Hour),
	}
}

// Set is everything Open connected. Optional capabilities are nil when the
// configured backend lacks them.
type Set struct {
	Graph     store.GraphStore
	Lister    store.EntityLister
	Embedding store.EmbeddingWriter
	Ledger    store.JobLedger
	Metadata  store.MetadataIndex
	Extractor store.ExtractionService
	// Pool is the postgres pool when one was opened; the lease lock
	// needs it.
	Pool *pgxpool.Pool

	closers []func()
}

// Close releases every connection in reverse opening order.
func (set *Set) Close() {
	for i := len(set.closers) - 1; i >= 0; i-- {
		set.closers[i]()
	}
	set.closers = nil
}

func (set *Set) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if set.Pool != nil {
		return set.Pool, nil
	}
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	set.Pool = pool
	set.closers = append(set.closers, pool.Close)
	return pool, nil
}

// Open connects the configured backends. On error everything opened so far
// is closed again.
func Open(ctx context.Context, p Params) (*Set, error) {
	set := &Set{}
	if err := set.open(ctx, p); err != nil {
		set.Close()
		return nil, err
	}
	logger.Info("[Backends] Connected", "graph", p.Graph, "ledger", p.Ledger, "cache", p.RedisAddr != "")
	return set, nil
}

func (set *Set) open(ctx context.Context, p Params) error {
	ragOpts := []lightrag.Option{
		lightrag.WithAPIKey(p.LightRAGKey),
		lightrag.WithRateLimit(p.LightRAGRPS, max(int(p.LightRAGRPS), 1)),
	}
	if p.LightRAGMaxNodes > 0 {
		ragOpts = append(ragOpts, lightrag.WithMaxNodes(p.LightRAGMaxNodes))
	}
	if p.LightRAGLookups > 0 {
		ragOpts = append(ragOpts, lightrag.WithLookupConcurrency(p.LightRAGLookups))
	}
	rag := lightrag.New(p.LightRAGURL, ragOpts...)
	set.Extractor = rag

	switch p.Graph {
	case GraphPostgres, "":
		pool, err := set.pool(ctx, p.DatabaseURL)
		if err != nil {
			return err
		}
		var pgOpts []pgx.GraphDBStorageOption
		if p.MaxTraversalEdges > 0 {
			pgOpts = append(pgOpts, pgx.WithMaxTraversalEdges(p.MaxTraversalEdges))
		}
		set.Graph = pgx.NewGraphDBStorageWithConnection(pool, pgOpts...)
	case GraphNeo4j:
		gs, err := neo4j.New(ctx, neo4j.Params{
			URI:      p.Neo4jURI,
			User:     p.Neo4jUser,
			Password: p.Neo4jPassword,
			Database: p.Neo4jDatabase,
		})
		if err != nil {
			return err
		}
		set.closers = append(set.closers, func() {
			if err := gs.Close(context.Background()); err != nil {
				logger.Warn("[Backends] Failed to close neo4j driver", "err", err)
			}
		})
		if err := gs.EnsureSchema(ctx); err != nil {
			return err
		}
		set.Graph = gs
	case GraphLightRAG:
		set.Graph = rag
	case GraphMemory:
		set.Graph = memory.New()
	default:
		return fmt.Errorf("unknown graph backend %q", p.Graph)
	}

	if p.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, p.RedisAddr, p.RedisPassword, p.RedisDB)
		if err != nil {
			return err
		}
		set.closers = append(set.closers, func() { _ = rdb.Close() })
		set.Graph = cache.New(set.Graph, rdb, cache.WithTTL(p.CacheTTL))
		logger.Info("[Backends] Similarity cache enabled", "addr", p.RedisAddr)
	}

	set.Lister, _ = set.Graph.(store.EntityLister)
	set.Embedding, _ = set.Graph.(store.EmbeddingWriter)

	switch p.Ledger {
	case LedgerPostgres, "":
		if m, ok := set.Graph.(*memory.Store); ok {
			set.Ledger, set.Metadata = m, m
			break
		}
		pool, err := set.pool(ctx, p.DatabaseURL)
		if err != nil {
			return err
		}
		pg := pgx.NewGraphDBStorageWithConnection(pool)
		set.Ledger, set.Metadata = pg, pg
	case LedgerSQLite:
		l, err := sqlite.Open(p.SQLitePath)
		if err != nil {
			return err
		}
		set.closers = append(set.closers, func() { _ = l.Close() })
		set.Ledger, set.Metadata = l, l
	default:
		return fmt.Errorf("unknown ledger backend %q", p.Ledger)
	}
	return nil
}

// Coordinator builds an ingestion coordinator over the set's extraction
// service and ledger. An empty encoding disables token-aware batching.
func (set *Set) Coordinator(cfg ingest.Config, encoding string) (*ingest.Coordinator, error) {
	opts := []ingest.Option{
		ingest.WithLedger(set.Ledger),
		ingest.WithMetadataIndex(set.Metadata),
	}
	if encoding != "" {
		counter, err := ingest.NewTiktokenCounter(encoding)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithTokenCounter(counter))
	}
	return ingest.NewCoordinator(set.Extractor, cfg, opts...), nil
}
