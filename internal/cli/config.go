package cli

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/backends"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/ingest"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/merge"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/rank"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/resolve"

	"github.com/spf13/viper"
)

type Config struct {
	Debug    bool            `mapstructure:"debug"`
	Backends backends.Params `mapstructure:"backends"`
	Ingest   IngestConfig    `mapstructure:"ingest"`
	Merge    MergeConfig     `mapstructure:"merge"`
	Rank     RankConfig      `mapstructure:"rank"`
	Resolve  ResolveConfig   `mapstructure:"resolve"`
}

type IngestConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	MaxBatchTokens int           `mapstructure:"max_batch_tokens"`
	TokenEncoding  string        `mapstructure:"token_encoding"`
	Concurrency    int           `mapstructure:"concurrency"`
	InitialWait    time.Duration `mapstructure:"initial_wait"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
}

type MergeConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	InterCallDelay time.Duration `mapstructure:"inter_call_delay"`
	AllowRename    bool          `mapstructure:"allow_rename"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
}

type RankConfig struct {
	Alpha                float64 `mapstructure:"alpha"`
	MaxHops              int     `mapstructure:"max_hops"`
	TopK                 int     `mapstructure:"top_k"`
	BaseWeight           float64 `mapstructure:"base_weight"`
	TierHigh             float64 `mapstructure:"tier_high"`
	TierMedium           float64 `mapstructure:"tier_medium"`
	MaxPathsPerCandidate int     `mapstructure:"max_paths_per_candidate"`
	CandidateType        string  `mapstructure:"candidate_type"`
}

type ResolveConfig struct {
	TieBreak            string `mapstructure:"tie_break"`
	NormalizeSeparators bool   `mapstructure:"normalize_separators"`
	RenameCanonical     bool   `mapstructure:"rename_canonical"`
}

// SetDefaults registers every tunable so the CLI runs without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("backends.graph", backends.GraphPostgres)
	v.SetDefault("backends.ledger", backends.LedgerPostgres)
	v.SetDefault("backends.database_url", "")
	v.SetDefault("backends.sqlite_path", "data/ledger.db")
	v.SetDefault("backends.max_traversal_edges", 10000)
	v.SetDefault("backends.neo4j_uri", "")
	v.SetDefault("backends.neo4j_user", "neo4j")
	v.SetDefault("backends.neo4j_password", "")
	v.SetDefault("backends.neo4j_database", "")
	v.SetDefault("backends.lightrag_url", "http://localhost:9621")
	v.SetDefault("backends.lightrag_key", "")
	v.SetDefault("backends.lightrag_rps", 10)
	v.SetDefault("backends.lightrag_max_nodes", 1000)
	v.SetDefault("backends.lightrag_lookups", 4)
	v.SetDefault("backends.redis_addr", "")
	v.SetDefault("backends.redis_password", "")
	v.SetDefault("backends.redis_db", 0)
	v.SetDefault("backends.cache_ttl", "1h")

	ic := ingest.DefaultConfig()
	v.SetDefault("ingest.batch_size", ic.BatchSize)
	v.SetDefault("ingest.max_batch_tokens", ic.MaxBatchTokens)
	v.SetDefault("ingest.token_encoding", "cl100k_base")
	v.SetDefault("ingest.concurrency", ic.Concurrency)
	v.SetDefault("ingest.initial_wait", ic.InitialWait)
	v.SetDefault("ingest.poll_interval", ic.PollInterval)
	v.SetDefault("ingest.poll_timeout", ic.PollTimeout)
	v.SetDefault("ingest.batch_delay", ic.BatchDelay)

	mc := merge.DefaultConfig()
	v.SetDefault("merge.concurrency", mc.Concurrency)
	v.SetDefault("merge.max_attempts", mc.Backoff.MaxAttempts)
	v.SetDefault("merge.initial_delay", mc.Backoff.InitialDelay)
	v.SetDefault("merge.backoff_factor", mc.Backoff.Factor)
	v.SetDefault("merge.inter_call_delay", mc.InterCallDelay)
	v.SetDefault("merge.allow_rename", false)
	v.SetDefault("merge.lease_ttl", 5*time.Minute)

	rc := rank.DefaultConfig()
	v.SetDefault("rank.alpha", rc.Alpha)
	v.SetDefault("rank.max_hops", rc.MaxHops)
	v.SetDefault("rank.top_k", rc.TopK)
	v.SetDefault("rank.base_weight", rc.BaseWeight)
	v.SetDefault("rank.tier_high", rc.TierHigh)
	v.SetDefault("rank.tier_medium", rc.TierMedium)
	v.SetDefault("rank.max_paths_per_candidate", rc.MaxPathsPerCandidate)
	v.SetDefault("rank.candidate_type", rc.CandidateType)

	v.SetDefault("resolve.tie_break", string(resolve.TieBreakPreferBare))
	v.SetDefault("resolve.normalize_separators", false)
	v.SetDefault("resolve.rename_canonical", false)
}

// Load unmarshals v and checks the values the domain packages would
// otherwise reject later.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if _, err := resolve.ParseTieBreak(cfg.Resolve.TieBreak); err != nil {
		return nil, err
	}
	if err := cfg.RankConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid rank config: %w", err)
	}
	if cfg.Merge.Concurrency < 1 {
		return nil, fmt.Errorf("merge.concurrency must be at least 1, got %d", cfg.Merge.Concurrency)
	}
	return &cfg, nil
}

func (c *Config) IngestConfig() ingest.Config {
	out := ingest.DefaultConfig()
	out.BatchSize = c.Ingest.BatchSize
	out.MaxBatchTokens = c.Ingest.MaxBatchTokens
	out.Concurrency = c.Ingest.Concurrency
	out.InitialWait = c.Ingest.InitialWait
	out.PollInterval = c.Ingest.PollInterval
	out.PollTimeout = c.Ingest.PollTimeout
	out.BatchDelay = c.Ingest.BatchDelay
	return out
}

func (c *Config) MergeConfig() merge.Config {
	out := merge.DefaultConfig()
	out.Concurrency = c.Merge.Concurrency
	out.Backoff = util.Backoff{
		MaxAttempts:  c.Merge.MaxAttempts,
		InitialDelay: c.Merge.InitialDelay,
		Factor:       c.Merge.BackoffFactor,
	}
	out.InterCallDelay = c.Merge.InterCallDelay
	out.AllowRename = c.Merge.AllowRename
	return out
}

func (c *Config) RankConfig() rank.Config {
	out := rank.DefaultConfig()
	out.Alpha = c.Rank.Alpha
	out.MaxHops = c.Rank.MaxHops
	out.TopK = c.Rank.TopK
	out.BaseWeight = c.Rank.BaseWeight
	out.TierHigh = c.Rank.TierHigh
	out.TierMedium = c.Rank.TierMedium
	out.MaxPathsPerCandidate = c.Rank.MaxPathsPerCandidate
	out.CandidateType = c.Rank.CandidateType
	return out
}

func (c *Config) ResolveConfig() resolve.Config {
	out := resolve.DefaultConfig()
	out.TieBreak = resolve.TieBreak(c.Resolve.TieBreak)
	out.NormalizeSeparators = c.Resolve.NormalizeSeparators
	out.RenameCanonical = c.Resolve.RenameCanonical
	return out
}
