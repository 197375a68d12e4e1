package cli

import (
	"github.com/OFFIS-RIT/talentgraph/backend/internal/db"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"

	"github.com/spf13/cobra"
)

func newSchemaCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of merge plan files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), util.GenerateSchema(common.MergePlan{}))
		},
	}
}

func newMigrateCmd(e *env) *cobra.Command {
	var (
		dir  string
		down int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) the postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := e.cfg.Backends.DatabaseURL
			if err := db.WaitForDatabase(cmd.Context(), dsn, 5); err != nil {
				return err
			}
			if down > 0 {
				if err := db.Rollback(dsn, dir, down); err != nil {
					return err
				}
				logger.Info("[CLI] Migrations rolled back", "steps", down)
				return nil
			}
			version, err := db.Migrate(dsn, dir)
			if err != nil {
				return err
			}
			logger.Info("[CLI] Database migrated", "version", version)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", db.DefaultMigrationsDir, "migrations directory")
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}
