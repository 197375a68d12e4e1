// Package cli implements talentctl, the operator command line. Maintenance
// is deliberately two-step: identify writes a merge plan for review and
// execute applies a plan file someone has read.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/backends"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger/console"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

// env is the state shared by every command of one root.
type env struct {
	v       *viper.Viper
	cfg     *Config
	cfgFile string

	open func(ctx context.Context, p backends.Params) (*backends.Set, error)
}

func (e *env) openBackends(ctx context.Context) (*backends.Set, error) {
	return e.open(ctx, e.cfg.Backends)
}

// NewRootCmd builds an isolated command tree with its own viper instance.
func NewRootCmd() (*cobra.Command, *env) {
	e := &env{v: viper.New(), open: backends.Open}

	root := &cobra.Command{
		Use:           "talentctl",
		Short:         "Operate the talent knowledge graph",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := e.initializeConfig(); err != nil {
				return err
			}
			cfg, err := Load(e.v)
			if err != nil {
				return err
			}
			e.cfg = cfg
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug}))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&e.cfgFile, "config", "c", "", "config file (default is ./talentctl.yaml)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = e.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(
		newIdentifyCmd(e),
		newExecuteCmd(e),
		newVerifyCmd(e),
		newIngestCmd(e),
		newRankCmd(e),
		newSeedCmd(e),
		newEmbeddingsCmd(e),
		newSchemaCmd(e),
		newMigrateCmd(e),
	)
	return root, e
}

// initializeConfig layers defaults, the config file and TALENT_* variables.
func (e *env) initializeConfig() error {
	SetDefaults(e.v)

	if e.cfgFile != "" {
		e.v.SetConfigFile(e.cfgFile)
	} else {
		e.v.AddConfigPath(".")
		e.v.SetConfigName("talentctl")
		e.v.SetConfigType("yaml")
	}

	e.v.SetEnvPrefix("TALENT")
	e.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	e.v.AutomaticEnv()
	_ = e.v.BindEnv("backends.database_url", "TALENT_DATABASE_URL", "DATABASE_URL")

	if err := e.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func Execute(ctx context.Context) error {
	root, _ := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := printJSON(f, v); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
