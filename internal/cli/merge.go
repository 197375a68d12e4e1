package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/timing"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/merge"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/resolve"

	"github.com/spf13/cobra"
)

func newIdentifyCmd(e *env) *cobra.Command {
	var (
		scope string
		types []string
		limit int
		out   string
	)

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Find duplicate entities and write a merge plan for review",
		Long: `Scans the entities in scope, clusters lexical variants of the same
identifier and writes a merge plan. Nothing is merged; apply the reviewed plan
with "talentctl execute".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			r, err := resolve.New(set.Lister, e.cfg.ResolveConfig())
			if err != nil {
				return err
			}
			filter := r.DefaultScope()
			if scope != "" {
				filter.NamePattern = scope
			}
			filter.EntityTypes = types
			filter.Limit = limit

			plan, err := r.IdentifyDuplicates(ctx, filter)
			if err != nil {
				return err
			}

			if out == "-" {
				return merge.WritePlan(cmd.OutOrStdout(), plan)
			}
			if err := merge.SavePlan(out, plan); err != nil {
				return err
			}
			logger.Info("[CLI] Merge plan written",
				"path", out,
				"plan_id", plan.ID,
				"operations", len(plan.Operations),
				"entities_scanned", plan.Stats.EntitiesScanned,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d operation(s) to %s. Review it, then run: talentctl execute --plan %s\n",
				len(plan.Operations), out, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "regular expression selecting entity names (default: candidate identifiers)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "restrict to these entity types")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entities to scan (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "merge_plan.json", `plan file to write ("-" for stdout)`)
	cmd.Flags().String("tie-break", "", "canonical tie-break policy: prefer-bare or lexical")
	_ = e.v.BindPFlag("resolve.tie_break", cmd.Flags().Lookup("tie-break"))
	return cmd
}

func newExecuteCmd(e *env) *cobra.Command {
	var (
		planPath   string
		reportPath string
		retryPath  string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Apply a reviewed merge plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			plan, err := merge.LoadPlan(planPath)
			if err != nil {
				return err
			}
			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			cfg := e.cfg.MergeConfig()
			cfg.DryRun = dryRun
			engine := merge.NewEngine(set.Graph, cfg)

			var report *merge.Report
			run := func(ctx context.Context) error {
				defer timing.Track("CLI", "execute", "plan_id", plan.ID)()
				var err error
				report, err = engine.ExecutePlan(ctx, plan)
				return err
			}

			switch {
			case dryRun || set.Pool == nil:
				err = run(ctx)
			default:
				host, _ := os.Hostname()
				err = leaselock.New(set.Pool).WithLease(ctx, leaselock.PlanKey(plan.ID), leaselock.Options{
					TTL:   e.cfg.Merge.LeaseTTL,
					Owner: host,
				}, run)
			}
			if errors.Is(err, leaselock.ErrBusy) {
				return fmt.Errorf("plan %s is being executed by another operator: %w", plan.ID, err)
			}
			// An interrupted run still returns a complete report, unstarted
			// operations marked failed; keep it so the run can be resumed.
			if report == nil {
				return err
			}
			runErr := err

			if reportPath != "" {
				if err := writeJSONFile(reportPath, report); err != nil {
					return err
				}
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			logger.Info("[CLI] Plan executed",
				"plan_id", plan.ID,
				"status", report.RunStatus(),
				"merged", report.Merged,
				"already_merged", report.AlreadyMerged,
				"failed", report.Failed,
				"skipped", report.Skipped,
			)

			if !report.Succeeded() && retryPath != "" {
				retry := *plan
				retry.Operations = report.FailedOperations(plan.Operations)
				if err := merge.SavePlan(retryPath, &retry); err != nil {
					return err
				}
				logger.Info("[CLI] Failed operations written", "path", retryPath, "operations", len(retry.Operations))
			}
			if runErr != nil {
				return runErr
			}
			if report.Succeeded() {
				return nil
			}
			return fmt.Errorf("%d of %d merge operation(s) failed", report.Failed, report.Total)
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "merge plan file (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be merged without touching the graph")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the run report to this file")
	cmd.Flags().StringVar(&retryPath, "retry-plan", "", "write the failed operations to this plan file")
	cmd.Flags().Int("concurrency", 0, "operations executed in parallel")
	cmd.Flags().Bool("allow-rename", false, "apply the rename_to of each operation after merging")
	_ = cmd.MarkFlagRequired("plan")
	_ = e.v.BindPFlag("merge.concurrency", cmd.Flags().Lookup("concurrency"))
	_ = e.v.BindPFlag("merge.allow_rename", cmd.Flags().Lookup("allow-rename"))
	return cmd
}

func newVerifyCmd(e *env) *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the graph against an executed merge plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			plan, err := merge.LoadPlan(planPath)
			if err != nil {
				return err
			}
			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			report, err := merge.Verify(ctx, set.Graph, plan)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%d problem(s) found", len(report.Problems))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "merge plan file (required)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}
