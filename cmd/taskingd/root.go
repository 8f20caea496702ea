package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	_ "github.com/opensensorhub/osh-addons-sub008/migrations" // registers embedded migrations
)

// configEnvVar names the configuration file when --config is not given.
const configEnvVar = "TASKING_CONFIG"

var validFormats = []string{"text", "json"}

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigPath string
	Format     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "taskingd",
		Short: "Command stream and command status store",
		Long: `taskingd stores command stream definitions and the status reports of
commands issued on them.

Configuration is read from --config, or from the file named by
TASKING_CONFIG, and falls back to built-in defaults. TASKING_* environment
variables override individual settings.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return usageError("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStreamsCommand(opts))
	cmd.AddCommand(newStatusesCommand(opts))

	return cmd
}

// loadConfig resolves the configuration file and loads it. Without a file
// the defaults plus environment overrides are used.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.ConfigPath
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, "(defaults)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openDatabase opens the configured backend.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Driver:       cfg.Driver,
		Path:         cfg.Path,
		DSN:          cfg.DSN,
		WALMode:      cfg.WALMode,
		BusyTimeout:  cfg.BusyTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
