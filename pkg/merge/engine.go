package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	Concurrency int
	Backoff     util.Backoff
	// InterCallDelay separates consecutive store calls when operations run
	// one at a time.
	InterCallDelay time.Duration
	// AllowRename applies an operation's RenameTo after a successful merge.
	AllowRename bool
	DryRun      bool
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    2,
		Backoff:        util.DefaultBackoff(),
		InterCallDelay: 500 * time.Millisecond,
	}
}

// Engine applies merge operations against a graph store.
type Engine struct {
	gs      store.GraphStore
	renamer store.EntityRenamer
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

type EngineOption func(*Engine)

// WithSleep replaces the timer used for the inter-call delay and the retry
// backoff.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		e.sleep = fn
		if e.cfg.Backoff.Sleep == nil {
			e.cfg.Backoff.Sleep = fn
		}
	}
}

func WithRenamer(r store.EntityRenamer) EngineOption {
	return func(e *Engine) { e.renamer = r }
}

func NewEngine(gs store.GraphStore, cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		gs:    gs,
		cfg:   cfg,
		sleep: util.SleepContext,
		now:   time.Now,
	}
	if r, ok := gs.(store.EntityRenamer); ok {
		e.renamer = r
	}
	if e.cfg.Backoff.MaxAttempts <= 0 {
		e.cfg.Backoff = util.DefaultBackoff()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExecutePlan runs every operation of plan and stamps the report with its ID.
func (e *Engine) ExecutePlan(ctx context.Context, plan *common.MergePlan) (*Report, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	report, err := e.ExecuteMerges(ctx, plan.Operations, e.cfg.Concurrency)
	if report != nil {
		report.PlanID = plan.ID
	}
	return report, err
}

// ExecuteMerges applies ops with at most concurrency store calls in flight.
// Per-operation failures are recorded in the report and never abort the run.
// The returned error is only set when ctx ends before every operation ran;
// the report is still complete in that case, with unstarted operations
// marked failed.
func (e *Engine) ExecuteMerges(ctx context.Context, ops []common.MergeOperation, concurrency int) (*Report, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	report := &Report{
		StartedAt: e.now().UTC(),
		Outcomes:  make([]Outcome, len(ops)),
	}
	start := time.Now()

	logger.Info("[Merge] Executing merge operations", "operations", len(ops), "concurrency", concurrency, "dry_run", e.cfg.DryRun)

	serial := concurrency == 1
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	started := 0
	for i, op := range ops {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if serial && i > 0 && !e.cfg.DryRun && e.cfg.InterCallDelay > 0 {
				if err := e.sleep(ctx, e.cfg.InterCallDelay); err != nil {
					report.Outcomes[i] = failedOutcome(op, err)
					return nil
				}
			}
			report.Outcomes[i] = e.execute(ctx, op)
			return nil
		})
	}
	_ = g.Wait()

	for i := started; i < len(ops); i++ {
		report.Outcomes[i] = failedOutcome(ops[i], ctx.Err())
	}

	report.tally()
	report.Duration = time.Since(start)

	logger.Info("[Merge] Merge run finished",
		"status", report.RunStatus(),
		"merged", report.Merged,
		"already_merged", report.AlreadyMerged,
		"failed", report.Failed,
		"entities_merged", report.EntitiesMerged,
		"relationships", report.RelationshipsTransferred,
		"duration", report.Duration,
	)

	if started < len(ops) {
		return report, fmt.Errorf("merge run interrupted after %d of %d operations: %w", started, len(ops), ctx.Err())
	}
	return report, nil
}

func failedOutcome(op common.MergeOperation, err error) Outcome {
	o := Outcome{
		Identifier: op.Identifier,
		Canonical:  op.CanonicalName,
		Variants:   op.VariantNames,
		Status:     StatusFailed,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func (e *Engine) execute(ctx context.Context, op common.MergeOperation) (out Outcome) {
	start := time.Now()
	out = Outcome{
		Identifier: op.Identifier,
		Canonical:  op.CanonicalName,
		Variants:   op.VariantNames,
	}
	defer func() { out.Duration = time.Since(start) }()

	if err := ValidateOperation(op); err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		logger.Warn("[Merge] Rejected operation", "canonical", op.CanonicalName, "err", err)
		return out
	}

	if e.cfg.DryRun {
		out.Status = StatusDryRun
		msg := "[Merge] Dry run, would merge"
		if op.RenameTo != "" && op.RenameTo != op.CanonicalName {
			msg += " and rename"
		}
		logger.Info(msg, "canonical", op.CanonicalName, "variants", op.VariantNames, "rename_to", op.RenameTo)
		return out
	}

	res, attempts, err := util.RetryWithBackoff(ctx, e.cfg.Backoff, store.IsTransient,
		func(ctx context.Context, attempt int) (store.MergeResult, error) {
			res, err := e.gs.MergeEntities(ctx, op.CanonicalName, op.VariantNames)
			if err != nil && store.IsTransient(err) && attempt < e.cfg.Backoff.MaxAttempts {
				logger.Warn("[Merge] Transient merge failure, retrying",
					"canonical", op.CanonicalName, "attempt", attempt, "err", err)
			}
			return res, err
		})
	out.Attempts = attempts

	switch {
	case err == nil:
		out.Status = StatusMerged
		out.RelationshipsTransferred = res.RelationshipsTransferred
		out.DuplicateEdgesCollapsed = res.DuplicateEdgesCollapsed
		out.VariantsMissing = res.VariantsMissing
		logger.Info("[Merge] Merged entities",
			"canonical", op.CanonicalName,
			"variants", len(res.VariantsMerged),
			"relationships", res.RelationshipsTransferred,
			"attempts", attempts,
		)
	case store.IsNotFound(err):
		out.Status = StatusAlreadyMerged
		logger.Debug("[Merge] Variants already merged", "canonical", op.CanonicalName)
	default:
		out.Status = StatusFailed
		out.Error = err.Error()
		logger.Error("[Merge] Failed to merge entities",
			"canonical", op.CanonicalName, "variants", op.VariantNames, "attempts", attempts, "err", err)
		return out
	}

	if e.cfg.AllowRename && op.RenameTo != "" && op.RenameTo != op.CanonicalName {
		if err := e.rename(ctx, op); err != nil {
			out.RenameError = err.Error()
			logger.Warn("[Merge] Failed to rename canonical", "from", op.CanonicalName, "to", op.RenameTo, "err", err)
		} else {
			out.RenamedTo = op.RenameTo
		}
	}
	return out
}

// rename respells the canonical. A canonical that is already gone while the
// target name exists counts as renamed by an earlier run.
func (e *Engine) rename(ctx context.Context, op common.MergeOperation) error {
	if e.renamer == nil {
		return fmt.Errorf("store does not support renaming")
	}
	_, _, err := util.RetryWithBackoff(ctx, e.cfg.Backoff, store.IsTransient,
		func(ctx context.Context, _ int) (struct{}, error) {
			return struct{}{}, e.renamer.RenameEntity(ctx, op.CanonicalName, op.RenameTo, op.EntityType)
		})
	if err == nil || !store.IsNotFound(err) {
		return err
	}
	exists, existsErr := e.gs.EntityExists(ctx, op.RenameTo)
	if existsErr != nil {
		return fmt.Errorf("failed to check rename target: %w", existsErr)
	}
	if !exists {
		return err
	}
	return nil
}
