// Package ingest feeds document chunks to the extraction service in bounded
// batches and records the outcome of every batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/timing"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BatchSize      int
	MaxBatchTokens int
	Concurrency    int

	InitialWait  time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	// MaxPolls caps status requests per batch; zero derives it from
	// PollTimeout and PollInterval.
	MaxPolls int

	SubmitTimeout  time.Duration
	SubmitAttempts int
	BatchDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      5,
		Concurrency:    1,
		InitialWait:    2 * time.Second,
		PollInterval:   10 * time.Second,
		PollTimeout:    600 * time.Second,
		SubmitTimeout:  2 * time.Minute,
		SubmitAttempts: 3,
		BatchDelay:     5 * time.Second,
	}
}

func (c Config) maxPolls() int {
	if c.MaxPolls > 0 {
		return c.MaxPolls
	}
	if c.PollInterval <= 0 {
		return 1
	}
	return int(c.PollTimeout/c.PollInterval) + 1
}

// Document is one source document and its ordered chunks.
type Document struct {
	ID             string
	Type           string
	SourceFilename string
	Chunks         []common.Chunk
}

type Options struct {
	BatchSize int
	// StartBatch skips batches numbered below it (1-based).
	StartBatch int
	// ChunkStart skips every chunk before the one with this ID.
	ChunkStart string
	// OnlyRanges replaces batch planning with exactly these ranges, which
	// is how failed ranges are resubmitted.
	OnlyRanges []common.ChunkRange
	// IgnoreLedger resubmits ranges the ledger already marks completed.
	IgnoreLedger bool
}

type Coordinator struct {
	svc     store.ExtractionService
	ledger  store.JobLedger
	index   store.MetadataIndex
	counter TokenCounter
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	// retrySleep is set only when a sleep is injected; otherwise submission
	// retries wait on the backoff library's own timer.
	retrySleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Coordinator)

func WithLedger(l store.JobLedger) Option { return func(c *Coordinator) { c.ledger = l } }

func WithMetadataIndex(idx store.MetadataIndex) Option {
	return func(c *Coordinator) { c.index = idx }
}

func WithTokenCounter(tc TokenCounter) Option { return func(c *Coordinator) { c.counter = tc } }

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = fn
		c.retrySleep = fn
	}
}

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(svc store.ExtractionService, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		svc:   svc,
		cfg:   cfg,
		sleep: util.SleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Ingest submits chunks in batches of at most batchSize and waits for each
// batch to finish. A failing batch is recorded and the run moves on.
func (c *Coordinator) Ingest(ctx context.Context, documentID string, chunks []common.Chunk, batchSize int) (*Report, error) {
	return c.IngestDocument(ctx, Document{ID: documentID, Chunks: chunks}, Options{BatchSize: batchSize})
}

type plannedBatch struct {
	number int
	r      common.ChunkRange
	skip   bool
	prior  *common.BatchJob
}

func (c *Coordinator) IngestDocument(ctx context.Context, doc Document, opts Options) (*Report, error) {
	if doc.ID == "" {
		return nil, store.Validation("document id is empty")
	}
	start := time.Now()
	report := &Report{DocumentID: doc.ID, TotalChunks: len(doc.Chunks), StartedAt: c.now().UTC()}

	if c.index != nil && (doc.Type != "" || doc.SourceFilename != "") {
		meta := common.DocumentMetadata{DocumentID: doc.ID, DocumentType: doc.Type, SourceFilename: doc.SourceFilename}
		if err := c.index.UpsertDocument(ctx, meta); err != nil {
			logger.Warn("[Ingest] Failed to record document metadata", "document", doc.ID, "err", err)
		}
	}

	batches, err := c.plan(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("[Ingest] Starting document ingestion",
		"document", doc.ID,
		"chunks", len(doc.Chunks),
		"batches", len(batches),
		"concurrency", c.cfg.Concurrency,
	)

	report.Batches = make([]BatchResult, len(batches))
	submitted := make([]chan struct{}, len(batches))
	for i := range submitted {
		submitted[i] = make(chan struct{})
	}

	concurrency := max(c.cfg.Concurrency, 1)
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	pending := 0
	for _, b := range batches {
		if !b.skip {
			pending++
		}
	}
	prog := &progress{documentID: doc.ID, start: start, total: pending}

	launched := 0
	lastSubmitted := -1
	for i, b := range batches {
		if b.skip {
			report.Batches[i] = BatchResult{
				BatchJob: common.BatchJob{DocumentID: doc.ID, Number: b.number, Range: b.r, Status: common.BatchCompleted},
				Skipped:  true,
			}
			close(submitted[i])
			launched++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		var prev chan struct{}
		delay := time.Duration(0)
		if lastSubmitted >= 0 {
			prev = submitted[lastSubmitted]
			delay = c.cfg.BatchDelay
		}
		lastSubmitted = i
		launched++
		g.Go(func() error {
			report.Batches[i] = c.runBatch(ctx, doc, b, prev, delay, submitted[i])
			prog.done()
			return nil
		})
	}
	_ = g.Wait()

	for i := launched; i < len(batches); i++ {
		b := batches[i]
		job := c.newJob(doc.ID, b)
		_ = job.Fail(fmt.Errorf("ingestion canceled: %w", ctx.Err()))
		c.record(ctx, job)
		report.Batches[i] = BatchResult{BatchJob: job}
	}

	report.tally()
	report.Duration = time.Since(start)

	logger.Info("[Ingest] Document ingestion finished",
		"document", doc.ID,
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"entities", report.Entities,
		"relationships", report.Relations,
		"duration", report.Duration,
	)
	for _, r := range report.FailedRanges() {
		logger.Warn("[Ingest] Range needs resubmission", "document", doc.ID, "range", r.String())
	}

	if launched < len(batches) {
		return report, fmt.Errorf("ingestion of %s interrupted: %w", doc.ID, ctx.Err())
	}
	return report, nil
}

func (c *Coordinator) plan(ctx context.Context, doc Document, opts Options) ([]plannedBatch, error) {
	var ranges []common.ChunkRange
	if len(opts.OnlyRanges) > 0 {
		ranges = append(ranges, opts.OnlyRanges...)
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
		for i, r := range ranges {
			if r.Len() == 0 || r.Start < 0 || r.End > len(doc.Chunks) {
				return nil, store.Validation("range %s outside document of %d chunks", r, len(doc.Chunks))
			}
			if i > 0 && ranges[i-1].Overlaps(r) {
				return nil, store.Validation("ranges %s and %s overlap", ranges[i-1], r)
			}
		}
	} else {
		offset := 0
		if opts.ChunkStart != "" {
			idx, ok := indexOfChunk(doc.Chunks, opts.ChunkStart)
			if !ok {
				return nil, store.Validation("chunk %q not found in document %s", opts.ChunkStart, doc.ID)
			}
			offset = idx
		}
		size := opts.BatchSize
		if size <= 0 {
			size = c.cfg.BatchSize
		}
		ranges = PlanBatches(doc.Chunks, offset, size, c.cfg.MaxBatchTokens, c.counter)
	}

	var history []common.BatchJob
	if c.ledger != nil {
		jobs, err := c.ledger.ListJobs(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read job ledger: %w", err)
		}
		history = jobs
	}
	var completed []common.ChunkRange
	for _, j := range history {
		if j.Status == common.BatchCompleted {
			completed = append(completed, j.Range)
		}
	}

	out := make([]plannedBatch, len(ranges))
	for i, r := range ranges {
		b := plannedBatch{number: i + 1, r: r}
		if opts.StartBatch > 0 && b.number < opts.StartBatch {
			b.skip = true
		}
		if !opts.IgnoreLedger && covered(r, completed) {
			b.skip = true
		}
		for k := range history {
			if history[k].Range == r {
				b.prior = &history[k]
			}
		}
		out[i] = b
	}
	return out, nil
}

func (c *Coordinator) newJob(documentID string, b plannedBatch) common.BatchJob {
	job := common.BatchJob{
		DocumentID:   documentID,
		Number:       b.number,
		Range:        b.r,
		Status:       common.BatchPending,
		AttemptCount: 1,
	}
	if b.prior != nil {
		job.AttemptCount = b.prior.AttemptCount + 1
	}
	return job
}

// progress logs an estimate of the time left after every finished batch.
type progress struct {
	mu         sync.Mutex
	documentID string
	start      time.Time
	finished   int
	total      int
}

func (p *progress) done() {
	p.mu.Lock()
	p.finished++
	finished, remaining := p.finished, p.total-p.finished
	p.mu.Unlock()

	if remaining <= 0 {
		return
	}
	if left, ok := timing.EstimateRemaining(time.Since(p.start), finished, remaining); ok {
		logger.Info("[Ingest] Progress",
			"document", p.documentID,
			"finished", finished,
			"remaining", remaining,
			"eta", timing.HMS(left),
		)
	}
}

// record persists the job. Ledger writes survive cancellation of the run so
// interrupted batches still end up marked failed.
func (c *Coordinator) record(ctx context.Context, job common.BatchJob) {
	if c.ledger == nil {
		return
	}
	job.UpdatedAt = c.now().UTC()
	if err := c.ledger.RecordJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Warn("[Ingest] Failed to record batch job", "document", job.DocumentID, "batch", job.Number, "status", job.Status, "err", err)
	}
}

func (c *Coordinator) runBatch(
	ctx context.Context,
	doc Document,
	b plannedBatch,
	prev <-chan struct{},
	delay time.Duration,
	submitted chan<- struct{},
) BatchResult {
	started := time.Now()
	job := c.newJob(doc.ID, b)
	result := BatchResult{}
	finish := func() BatchResult {
		job.Duration = time.Since(started)
		c.record(ctx, job)
		result.BatchJob = job
		return result
	}

	signalled := false
	signal := func() {
		if !signalled {
			close(submitted)
			signalled = true
		}
	}
	defer signal()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			_ = job.Fail(ctx.Err())
			return finish()
		}
		if err := c.sleep(ctx, delay); err != nil {
			_ = job.Fail(err)
			return finish()
		}
	}

	c.record(ctx, job)
	logger.Info("[Ingest] Submitting batch", "document", doc.ID, "batch", b.number, "range", b.r.String(), "attempt", job.AttemptCount)

	texts := buildTexts(doc.ID, b.number, doc.Chunks[b.r.Start:b.r.End])
	handle, err := c.submit(ctx, doc.ID, b.r, texts)
	signal()
	if err != nil {
		logger.Error("[Ingest] Batch submission failed", "document", doc.ID, "batch", b.number, "err", err)
		_ = job.Fail(err)
		return finish()
	}
	job.Handle = handle
	_ = job.Transition(common.BatchSubmitted)
	c.record(ctx, job)

	outcome := c.poll(ctx, handle, b.number)
	result.PollResult = outcome.result
	result.Polls = outcome.polls
	switch outcome.result {
	case PollCompleted:
		job.EntitiesCreated = outcome.status.EntitiesCreated
		job.RelationshipsCreated = outcome.status.RelationshipsCreated
		_ = job.Transition(common.BatchCompleted)
		logger.Info("[Ingest] Batch completed",
			"document", doc.ID,
			"batch", b.number,
			"entities", job.EntitiesCreated,
			"relationships", job.RelationshipsCreated,
			"polls", outcome.polls,
		)
	default:
		_ = job.Fail(outcome.err)
		logger.Error("[Ingest] Batch failed", "document", doc.ID, "batch", b.number, "result", outcome.result, "err", outcome.err)
	}
	return finish()
}

// submit hands the batch to the extraction service under the submission
// timeout, retrying transient failures.
func (c *Coordinator) submit(ctx context.Context, documentID string, r common.ChunkRange, texts []store.SubmittedText) (string, error) {
	b := util.Backoff{
		MaxAttempts:  max(c.cfg.SubmitAttempts, 1),
		InitialDelay: time.Second,
		Factor:       2,
		Sleep:        c.retrySleep,
	}
	handle, _, err := util.RetryWithBackoff(ctx, b, store.IsTransient,
		func(ctx context.Context, attempt int) (string, error) {
			callCtx := ctx
			if c.cfg.SubmitTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.cfg.SubmitTimeout)
				defer cancel()
			}
			handle, err := c.svc.SubmitBatch(callCtx, documentID, r, texts)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", store.Transient("submit", fmt.Errorf("submission timed out after %s", c.cfg.SubmitTimeout))
			}
			return handle, err
		})
	if err != nil {
		return "", fmt.Errorf("failed to submit range %s: %w", r, err)
	}
	return handle, nil
}

type pollOutcome struct {
	result PollResult
	status store.BatchStatusReport
	polls  int
	err    error
}

// poll waits for the batch to reach a terminal status. The loop is bounded
// by both the time budget and the poll count ceiling.
func (c *Coordinator) poll(ctx context.Context, handle string, number int) pollOutcome {
	begin := c.now()
	if err := c.sleep(ctx, c.cfg.InitialWait); err != nil {
		return pollOutcome{result: PollFailed, err: err}
	}

	limit := c.cfg.maxPolls()
	for polls := 1; polls <= limit; polls++ {
		st, err := c.svc.PollStatus(ctx, handle)
		switch {
		case err != nil && ctx.Err() != nil:
			return pollOutcome{result: PollFailed, polls: polls, err: ctx.Err()}
		case err != nil:
			logger.Warn("[Ingest] Status check failed", "batch", number, "handle", handle, "err", err)
		case st.Status == store.ExtractionCompleted:
			return pollOutcome{result: PollCompleted, status: st, polls: polls}
		case st.Status == store.ExtractionFailed:
			msg := st.Error
			if msg == "" {
				msg = "extraction reported failure"
			}
			return pollOutcome{result: PollFailed, status: st, polls: polls, err: errors.New(msg)}
		default:
			logger.Debug("[Ingest] Batch still processing", "batch", number, "poll", polls)
		}

		if c.now().Sub(begin) >= c.cfg.PollTimeout || polls == limit {
			return pollOutcome{
				result: PollTimedOut,
				polls:  polls,
				err:    fmt.Errorf("batch %d timed out after %d polls (%s)", number, polls, c.cfg.PollTimeout),
			}
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return pollOutcome{result: PollFailed, polls: polls, err: err}
		}
	}
	return pollOutcome{result: PollTimedOut, err: fmt.Errorf("batch %d timed out", number)}
}
