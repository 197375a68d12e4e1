package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeClock advances only when the coordinator sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type fakeExtractor struct {
	mu sync.Mutex

	submitted   []common.ChunkRange
	texts       map[string][]store.SubmittedText
	failRanges  map[common.ChunkRange]int
	stuck       map[common.ChunkRange]bool
	submitErrs  []error
	pollErrs    []error
	processing  map[string]int
	pollsByHand map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		texts:       make(map[string][]store.SubmittedText),
		failRanges:  make(map[common.ChunkRange]int),
		stuck:       make(map[common.ChunkRange]bool),
		processing:  make(map[string]int),
		pollsByHand: make(map[string]int),
	}
}

func handleFor(r common.ChunkRange) string { return "batch-" + r.String() }

func (f *fakeExtractor) SubmitBatch(ctx context.Context, documentID string, r common.ChunkRange, texts []store.SubmittedText) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return "", err
	}
	f.submitted = append(f.submitted, r)
	f.texts[handleFor(r)] = texts
	return handleFor(r), nil
}

func (f *fakeExtractor) PollStatus(ctx context.Context, handle string) (store.BatchStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollsByHand[handle]++
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return store.BatchStatusReport{}, err
	}
	for r, remaining := range f.failRanges {
		if handleFor(r) == handle && remaining > 0 {
			f.failRanges[r] = remaining - 1
			return store.BatchStatusReport{Status: store.ExtractionFailed, Error: "llm timeout"}, nil
		}
	}
	for r, stuck := range f.stuck {
		if handleFor(r) == handle && stuck {
			return store.BatchStatusReport{Status: store.ExtractionProcessing}, nil
		}
	}
	return store.BatchStatusReport{Status: store.ExtractionCompleted, EntitiesCreated: 3, RelationshipsCreated: 2}, nil
}

func (f *fakeExtractor) submissions() []common.ChunkRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.ChunkRange(nil), f.submitted...)
}

func chunks(n int) []common.Chunk {
	out := make([]common.Chunk, n)
	for i := range out {
		out[i] = common.Chunk{ID: fmt.Sprintf("c%02d", i), Content: fmt.Sprintf("chunk %d", i), Page: i/3 + 1}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 30 * time.Second
	return cfg
}

func newTestCoordinator(svc store.ExtractionService, cfg Config, clock *fakeClock, opts ...Option) *Coordinator {
	opts = append([]Option{WithSleep(clock.Sleep), WithClock(clock.Now)}, opts...)
	return NewCoordinator(svc, cfg, opts...)
}

func TestIngest_PartialFailureIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := newFakeExtractor()
	third := common.ChunkRange{Start: 10, End: 15}
	svc.failRanges[third] = 1

	c := newTestCoordinator(svc, testConfig(), newFakeClock())
	report, err := c.Ingest(context.Background(), "cigref", chunks(25), 5)
	require.NoError(t, err)

	require.Len(t, report.Batches, 5)
	for i, b := range report.Batches {
		if i == 2 {
			assert.Equal(t, common.BatchFailed, b.Status)
			assert.Equal(t, "llm timeout", b.LastError)
			continue
		}
		assert.Equal(t, common.BatchCompleted, b.Status, "batch %d", b.Number)
	}
	assert.Equal(t, []common.ChunkRange{third}, report.FailedRanges())
	assert.Equal(t, 4, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 12, report.Entities)
	assert.Equal(t, int32(100), report.Progress().Percentage)
}

func TestIngest_ResumeSkipsCompletedRanges(t *testing.T) {
	ledger := memory.New()
	svc := newFakeExtractor()
	svc.failRanges[common.ChunkRange{Start: 10, End: 15}] = 1
	clock := newFakeClock()

	c := newTestCoordinator(svc, testConfig(), clock, WithLedger(ledger))
	_, err := c.Ingest(context.Background(), "cigref", chunks(25), 5)
	require.NoError(t, err)
	require.Len(t, svc.submissions(), 5)

	again, err := c.Ingest(context.Background(), "cigref", chunks(25), 5)
	require.NoError(t, err)

	assert.Equal(t, 4, again.Skipped)
	assert.Equal(t, 1, again.Completed)
	assert.Empty(t, again.FailedRanges())
	retried := again.Batches[2]
	assert.Equal(t, common.BatchCompleted, retried.Status)
	assert.Equal(t, 2, retried.AttemptCount)
	assert.Len(t, svc.submissions(), 6)

	jobs, err := ledger.ListJobs(context.Background(), "cigref")
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, common.BatchCompleted, j.Status, "range %s", j.Range)
	}
}

func TestIngest_SubmitsInRangeOrderUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := newFakeExtractor()
	cfg := testConfig()
	cfg.Concurrency = 3
	c := newTestCoordinator(svc, cfg, newFakeClock())

	report, err := c.Ingest(context.Background(), "doc", chunks(40), 4)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Completed)

	subs := svc.submissions()
	require.Len(t, subs, 10)
	for i := 1; i < len(subs); i++ {
		assert.Less(t, subs[i-1].Start, subs[i].Start)
	}
}

func TestIngest_PollTimeoutFailsBatch(t *testing.T) {
	svc := newFakeExtractor()
	svc.stuck[common.ChunkRange{Start: 0, End: 2}] = true

	c := newTestCoordinator(svc, testConfig(), newFakeClock())
	report, err := c.Ingest(context.Background(), "doc", chunks(2), 5)
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	b := report.Batches[0]
	assert.Equal(t, common.BatchFailed, b.Status)
	assert.Equal(t, PollTimedOut, b.PollResult)
	// Initial wait of 2s, then polls at 2s, 12s, 22s and 32s.
	assert.Equal(t, 4, b.Polls)
	assert.Contains(t, b.LastError, "timed out")
}

func TestIngest_PollErrorsAreTolerated(t *testing.T) {
	svc := newFakeExtractor()
	svc.pollErrs = []error{errors.New("connection reset")}

	c := newTestCoordinator(svc, testConfig(), newFakeClock())
	report, err := c.Ingest(context.Background(), "doc", chunks(3), 5)
	require.NoError(t, err)
	assert.Equal(t, common.BatchCompleted, report.Batches[0].Status)
	assert.Equal(t, 2, report.Batches[0].Polls)
}

func TestIngest_TransientSubmitErrorsAreRetried(t *testing.T) {
	svc := newFakeExtractor()
	svc.submitErrs = []error{store.Transient("submit", errors.New("502"))}

	c := newTestCoordinator(svc, testConfig(), newFakeClock())
	report, err := c.Ingest(context.Background(), "doc", chunks(3), 5)
	require.NoError(t, err)
	assert.Equal(t, common.BatchCompleted, report.Batches[0].Status)

	svc.submitErrs = []error{store.Validation("texts empty")}
	report, err = c.Ingest(context.Background(), "doc2", chunks(3), 5)
	require.NoError(t, err)
	assert.Equal(t, common.BatchFailed, report.Batches[0].Status)
}

func TestIngest_CanceledRunMarksBatchesFailed(t *testing.T) {
	ledger := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCoordinator(newFakeExtractor(), testConfig(), newFakeClock(), WithLedger(ledger))
	report, err := c.Ingest(ctx, "doc", chunks(10), 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Failed)

	jobs, err := ledger.ListJobs(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, common.BatchFailed, jobs[0].Status)
}

func TestIngestDocument_StartOptionsAndMetadata(t *testing.T) {
	idx := memory.New()
	svc := newFakeExtractor()
	c := newTestCoordinator(svc, testConfig(), newFakeClock(), WithMetadataIndex(idx))

	doc := Document{ID: "cv_001", Type: "CV", SourceFilename: "cv_001.pdf", Chunks: chunks(12)}
	report, err := c.IngestDocument(context.Background(), doc, Options{BatchSize: 4, ChunkStart: "c02", StartBatch: 2})
	require.NoError(t, err)

	// c02..c11 splits into [2,6) [6,10) [10,12); batch 1 is skipped.
	assert.Equal(t, []common.ChunkRange{{Start: 6, End: 10}, {Start: 10, End: 12}}, svc.submissions())
	assert.Equal(t, 1, report.Skipped)

	meta, err := idx.GetDocument(context.Background(), "cv_001")
	require.NoError(t, err)
	assert.Equal(t, "cv_001.pdf", meta.SourceFilename)

	texts := svc.texts[handleFor(common.ChunkRange{Start: 6, End: 10})]
	require.Len(t, texts, 4)
	assert.Equal(t, "cv_001_batch_2_c06", texts[0].FileSource)
	assert.True(t, strings.HasPrefix(texts[0].Text, "[CHUNK_ID: c06]\n[PAGE: 3]\n\n"))
}

func TestIngestDocument_OnlyRanges(t *testing.T) {
	svc := newFakeExtractor()
	c := newTestCoordinator(svc, testConfig(), newFakeClock())

	only := []common.ChunkRange{{Start: 10, End: 15}}
	_, err := c.IngestDocument(context.Background(), Document{ID: "d", Chunks: chunks(25)}, Options{OnlyRanges: only})
	require.NoError(t, err)
	assert.Equal(t, only, svc.submissions())

	_, err = c.IngestDocument(context.Background(), Document{ID: "d", Chunks: chunks(5)}, Options{OnlyRanges: only})
	assert.True(t, store.IsValidation(err))
}

func TestIngestDocument_OverlappingOnlyRangesRejected(t *testing.T) {
	svc := newFakeExtractor()
	c := newTestCoordinator(svc, testConfig(), newFakeClock())

	only := []common.ChunkRange{{Start: 12, End: 20}, {Start: 0, End: 5}, {Start: 10, End: 15}}
	_, err := c.IngestDocument(context.Background(), Document{ID: "d", Chunks: chunks(25)}, Options{OnlyRanges: only})
	assert.True(t, store.IsValidation(err))
	assert.Empty(t, svc.submissions())

	// Adjacent half-open ranges do not overlap.
	only = []common.ChunkRange{{Start: 5, End: 10}, {Start: 0, End: 5}}
	_, err = c.IngestDocument(context.Background(), Document{ID: "d", Chunks: chunks(25)}, Options{OnlyRanges: only})
	require.NoError(t, err)
	assert.Len(t, svc.submissions(), 2)
}
