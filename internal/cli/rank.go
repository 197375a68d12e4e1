package cli

import (
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/rank"

	"github.com/go-playground/validator"
	"github.com/spf13/cobra"
)

func newRankCmd(e *env) *cobra.Command {
	var (
		req             rank.ProfileRequest
		experienceYears int
		alpha           float64
		trace           bool
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidates against a job profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("experience-years") {
				req.ExperienceYears = &experienceYears
			}
			if cmd.Flags().Changed("alpha") {
				req.Alpha = &alpha
			}
			if err := validator.New().Struct(req); err != nil {
				return fmt.Errorf("invalid rank request: %w", err)
			}

			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			engine, err := rank.NewEngine(set.Graph, e.cfg.RankConfig())
			if err != nil {
				return err
			}

			var tracer rank.Tracer
			var rt *rank.RankTrace
			if trace {
				rt = rank.NewRankTrace()
				tracer = rt
			}
			result, err := engine.RankProfile(ctx, req, tracer)
			if err != nil {
				return err
			}
			if rt == nil {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Result *rank.Result            `json:"result"`
				Trace  rank.RankTraceSnapshot `json:"trace"`
			}{result, rt.Snapshot()})
		},
	}

	cmd.Flags().StringVar(&req.ProfileName, "profile", "", "job profile entity to rank against (required)")
	cmd.Flags().IntVar(&experienceYears, "experience-years", 0, "minimum years of experience")
	cmd.Flags().IntVar(&req.TopK, "top-k", 0, "number of candidates to return")
	cmd.Flags().IntVar(&req.MaxHops, "max-hops", 0, "maximum path length in the graph")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "weight of vector similarity against graph evidence")
	cmd.Flags().StringSliceVar(&req.Candidates, "candidate", nil, "rank only these candidates")
	cmd.Flags().StringVar(&req.CandidateType, "candidate-type", "", "entity type of the candidate pool")
	cmd.Flags().BoolVar(&trace, "trace", false, "include lookup and traversal events")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
