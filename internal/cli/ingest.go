package cli

import (
	"fmt"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/ingest"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"

	"github.com/spf13/cobra"
)

func newIngestCmd(e *env) *cobra.Command {
	var (
		documentID     string
		documentType   string
		sourceFilename string
		chunksPath     string
		reportPath     string
		startBatch     int
		chunkStart     string
		ignoreLedger   bool
		onlyFailed     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit the chunks of one document for extraction",
		Long: `Splits the chunk file into batches, submits them to the extraction
service and waits for each one. Batches the ledger records as completed are
skipped, so an interrupted run can simply be started again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var chunks []common.Chunk
			if err := readJSONFile(chunksPath, &chunks); err != nil {
				return err
			}

			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			coordinator, err := set.Coordinator(e.cfg.IngestConfig(), e.cfg.Ingest.TokenEncoding)
			if err != nil {
				return err
			}

			opts := ingest.Options{
				StartBatch:   startBatch,
				ChunkStart:   chunkStart,
				IgnoreLedger: ignoreLedger,
			}
			if onlyFailed {
				jobs, err := set.Ledger.ListJobs(ctx, documentID)
				if err != nil {
					return err
				}
				for _, j := range jobs {
					if j.Status == common.BatchFailed {
						opts.OnlyRanges = append(opts.OnlyRanges, j.Range)
					}
				}
				if len(opts.OnlyRanges) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed batches recorded for", documentID)
					return nil
				}
			}

			report, err := coordinator.IngestDocument(ctx, ingest.Document{
				ID:             documentID,
				Type:           documentType,
				SourceFilename: sourceFilename,
				Chunks:         chunks,
			}, opts)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if err := writeJSONFile(reportPath, report); err != nil {
					return err
				}
			}
			progress := report.Progress()
			logger.Info("[CLI] Ingestion finished",
				"document", documentID,
				"batches", report.TotalBatches,
				"completed", report.Completed,
				"failed", report.Failed,
				"skipped", report.Skipped,
				"progress", fmt.Sprintf("%d%%", progress.Percentage),
			)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d batch(es) failed; rerun with --only-failed to resubmit %v",
					report.Failed, report.FailedRanges())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&documentID, "document-id", "", "document identifier (required)")
	cmd.Flags().StringVar(&documentType, "document-type", "", "document type recorded in the metadata index")
	cmd.Flags().StringVar(&sourceFilename, "source-filename", "", "original file name recorded in the metadata index")
	cmd.Flags().StringVar(&chunksPath, "chunks", "", "JSON file with the document chunks (required)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the ingestion report to this file")
	cmd.Flags().IntVar(&startBatch, "start-batch", 0, "skip batches numbered below this one (1-based)")
	cmd.Flags().StringVar(&chunkStart, "chunk-start", "", "skip every chunk before the one with this id")
	cmd.Flags().BoolVar(&ignoreLedger, "ignore-ledger", false, "resubmit batches the ledger marks completed")
	cmd.Flags().BoolVar(&onlyFailed, "only-failed", false, "resubmit only the ranges the ledger marks failed")
	cmd.Flags().Int("batch-size", 0, "chunks per batch")
	cmd.Flags().Int("max-batch-tokens", 0, "token budget per batch (0 = unlimited)")
	_ = cmd.MarkFlagRequired("document-id")
	_ = cmd.MarkFlagRequired("chunks")
	_ = e.v.BindPFlag("ingest.batch_size", cmd.Flags().Lookup("batch-size"))
	_ = e.v.BindPFlag("ingest.max_batch_tokens", cmd.Flags().Lookup("max-batch-tokens"))
	return cmd
}

func newSeedCmd(e *env) *cobra.Command {
	var profilesPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create candidate entities and their domain, job and level edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var profiles []ingest.CandidateProfile
			if err := readJSONFile(profilesPath, &profiles); err != nil {
				return err
			}
			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()

			seeder := ingest.NewSeeder(set.Graph)
			var failed int
			for _, p := range profiles {
				if _, err := seeder.SeedCandidate(ctx, p); err != nil {
					failed++
					logger.Warn("[CLI] Failed to seed candidate", "candidate", p.Label, "err", err)
				}
			}
			if err := printJSON(cmd.OutOrStdout(), seeder.Stats()); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d candidate(s) failed", failed, len(profiles))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profilesPath, "file", "", "JSON array of candidate profiles (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEmbeddingsCmd(e *env) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Import precomputed entity embeddings",
		Long: `Reads a JSON object mapping entity names to embedding vectors and
stores them, which is what vector similarity is computed from. Entities that
do not exist are reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var vectors map[string][]float32
			if err := readJSONFile(path, &vectors); err != nil {
				return err
			}
			set, err := e.openBackends(ctx)
			if err != nil {
				return err
			}
			defer set.Close()
			if set.Embedding == nil {
				return fmt.Errorf("graph backend %q does not store embeddings", e.cfg.Backends.Graph)
			}

			var stored, skipped int
			for name, vec := range vectors {
				if err := set.Embedding.SetEmbedding(ctx, name, vec); err != nil {
					skipped++
					logger.Warn("[CLI] Failed to store embedding", "entity", name, "err", err)
					continue
				}
				stored++
			}
			logger.Info("[CLI] Embeddings imported", "stored", stored, "skipped", skipped)
			return printJSON(cmd.OutOrStdout(), map[string]int{"stored": stored, "skipped": skipped})
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "JSON object of entity name to vector (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
