package cache

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	ttls    map[string]time.Duration
	down    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		ttls:    make(map[string]time.Duration),
	}
}

var errDown = errors.New("connection refused")

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errDown)
	}
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.strings[key], 10, 64)
	n++
	f.strings[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := make([]any, len(fields))
	for i, field := range fields {
		if v, ok := f.hashes[key][field]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hashes[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func seeded() *memory.Store {
	m := memory.New()
	m.AddEntity(common.Entity{Name: "Cloud Architect", Type: "profile"})
	m.AddEntity(common.Entity{Name: "CV_001", Type: "candidate"})
	m.AddEntity(common.Entity{Name: "Cv_001", Type: "candidate"})
	m.AddEntity(common.Entity{Name: "CV_002", Type: "candidate"})
	m.SetSimilarity("Cloud Architect", "CV_001", 0.9)
	m.SetSimilarity("Cloud Architect", "CV_002", 0.4)
	return m
}

func TestVectorSimilarity_ServesRepeatLookupsFromRedis(t *testing.T) {
	ctx := context.Background()
	inner := seeded()
	rdb := newFakeRedis()
	c := New(inner, rdb, WithTTL(time.Minute))

	first, err := c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_002", "CV_404"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.9, "CV_002": 0.4}, first)
	assert.Equal(t, time.Minute, rdb.ttls["talentgraph:sim:0:Cloud Architect"])

	second, err := c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_002"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls(memory.OpVectorSimilarity), "second lookup must be fully cached")

	// Only the uncached candidate reaches the store.
	_, err = c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_404"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls(memory.OpVectorSimilarity))
}

func TestMergeEntities_InvalidatesCachedScores(t *testing.T) {
	ctx := context.Background()
	inner := seeded()
	rdb := newFakeRedis()
	c := New(inner, rdb)

	_, err := c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001"})
	require.NoError(t, err)

	_, err = c.MergeEntities(ctx, "CV_001", []string{"Cv_001"})
	require.NoError(t, err)
	assert.Equal(t, "1", rdb.strings["talentgraph:sim:gen"])

	_, err = c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls(memory.OpVectorSimilarity), "new generation must miss")
}

func TestVectorSimilarity_RedisDownFallsBackToStore(t *testing.T) {
	inner := seeded()
	rdb := newFakeRedis()
	rdb.down = true
	c := New(inner, rdb)

	got, err := c.VectorSimilarity(context.Background(), "Cloud Architect", []string{"CV_001"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.9}, got)
}

func TestRenameAndFindForwardToInnerStore(t *testing.T) {
	ctx := context.Background()
	inner := seeded()
	c := New(inner, newFakeRedis())

	require.NoError(t, c.RenameEntity(ctx, "Cv_001", "CV_0001", ""))
	found, err := c.FindEntities(ctx, store.ScopeFilter{NamePattern: `^cv_0001$`})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "CV_0001", found[0].Name)
}

func TestVectorSimilarity_NonFiniteScoresAreNeitherServedNorCached(t *testing.T) {
	ctx := context.Background()
	inner := seeded()
	inner.SetSimilarity("Cloud Architect", "CV_002", math.NaN())
	rdb := newFakeRedis()
	c := New(inner, rdb)

	got, err := c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.9}, got)
	_, cached := rdb.hashes["talentgraph:sim:0:Cloud Architect"]["CV_002"]
	assert.False(t, cached)

	// A NaN that made it into Redis is a miss, not a score.
	rdb.hashes["talentgraph:sim:0:Cloud Architect"]["CV_002"] = "NaN"
	inner.SetSimilarity("Cloud Architect", "CV_002", 0.4)
	got, err = c.VectorSimilarity(ctx, "Cloud Architect", []string{"CV_001", "CV_002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CV_001": 0.9, "CV_002": 0.4}, got)
}
