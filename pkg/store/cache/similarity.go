// Package cache wraps a GraphStore with a Redis read-through cache for
// vector similarity scores.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// SimilarityCache serves VectorSimilarity from Redis and delegates
// everything else to the wrapped store. Writes that can change scores bump
// a generation counter, which retires every cached entry at once.
type SimilarityCache struct {
	store.GraphStore

	rdb    Client
	prefix string
	ttl    time.Duration
}

type Option func(*SimilarityCache)

func WithPrefix(prefix string) Option {
	return func(c *SimilarityCache) {
		c.prefix = prefix
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *SimilarityCache) {
		c.ttl = ttl
	}
}

func New(inner store.GraphStore, rdb Client, opts ...Option) *SimilarityCache {
	c := &SimilarityCache{
		GraphStore: inner,
		rdb:        rdb,
		prefix:     "talentgraph:sim",
		ttl:        time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (c *SimilarityCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *SimilarityCache) key(gen int64, target string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, target)
}

func (c *SimilarityCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// VectorSimilarity answers cached candidates from Redis and asks the wrapped
// store only for the rest. A Redis failure degrades to a direct call.
func (c *SimilarityCache) VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error) {
	if len(candidates) == 0 {
		return c.GraphStore.VectorSimilarity(ctx, target, candidates)
	}
	gen, err := c.generation(ctx)
	if err != nil {
		logger.Warn("[Store] Similarity cache unavailable", "err", err)
		return c.GraphStore.VectorSimilarity(ctx, target, candidates)
	}
	key := c.key(gen, target)

	cached, err := c.rdb.HMGet(ctx, key, candidates...).Result()
	if err != nil {
		logger.Warn("[Store] Similarity cache read failed", "key", key, "err", err)
		return c.GraphStore.VectorSimilarity(ctx, target, candidates)
	}

	out := make(map[string]float64, len(candidates))
	var misses []string
	for i, cand := range candidates {
		raw, ok := cached[i].(string)
		if !ok {
			misses = append(misses, cand)
			continue
		}
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || !store.FiniteScore(score) {
			misses = append(misses, cand)
			continue
		}
		out[cand] = score
	}
	logger.Debug("[Store] Similarity cache lookup", "target", target, "hits", len(out), "misses", len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := c.GraphStore.VectorSimilarity(ctx, target, misses)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, 2*len(fresh))
	for cand, score := range fresh {
		if !store.FiniteScore(score) {
			continue
		}
		out[cand] = score
		values = append(values, cand, strconv.FormatFloat(score, 'g', -1, 64))
	}
	if len(values) > 0 {
		if err := c.rdb.HSet(ctx, key, values...).Err(); err != nil {
			logger.Warn("[Store] Similarity cache write failed", "key", key, "err", err)
		} else if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
			logger.Warn("[Store] Similarity cache expire failed", "key", key, "err", err)
		}
	}
	return out, nil
}

func (c *SimilarityCache) invalidate(ctx context.Context) {
	if err := c.rdb.Incr(ctx, c.generationKey()).Err(); err != nil {
		logger.Warn("[Store] Similarity cache invalidation failed", "err", err)
	}
}

func (c *SimilarityCache) MergeEntities(ctx context.Context, canonical string, variants []string) (store.MergeResult, error) {
	res, err := c.GraphStore.MergeEntities(ctx, canonical, variants)
	if err == nil {
		c.invalidate(ctx)
	}
	return res, err
}

// RenameEntity forwards to the wrapped store when it supports renames.
func (c *SimilarityCache) RenameEntity(ctx context.Context, name, newName, entityType string) error {
	renamer, ok := c.GraphStore.(store.EntityRenamer)
	if !ok {
		return fmt.Errorf("rename %q: %w", name, errors.ErrUnsupported)
	}
	if err := renamer.RenameEntity(ctx, name, newName, entityType); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *SimilarityCache) SetEmbedding(ctx context.Context, name string, embedding []float32) error {
	writer, ok := c.GraphStore.(store.EmbeddingWriter)
	if !ok {
		return fmt.Errorf("set embedding %q: %w", name, errors.ErrUnsupported)
	}
	if err := writer.SetEmbedding(ctx, name, embedding); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// FindEntities forwards to the wrapped store when it can list entities.
func (c *SimilarityCache) FindEntities(ctx context.Context, filter store.ScopeFilter) ([]common.Entity, error) {
	lister, ok := c.GraphStore.(store.EntityLister)
	if !ok {
		return nil, fmt.Errorf("find entities: %w", errors.ErrUnsupported)
	}
	return lister.FindEntities(ctx, filter)
}
