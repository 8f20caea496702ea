package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, _ *config.Config, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), rootOpts.Format, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, _ *config.Config, db *database.DB) error {
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), rootOpts.Format, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, _ *config.Config, db *database.DB) error {
				return printMigrationStatus(ctx, cmd.OutOrStdout(), rootOpts.Format, db)
			})
		},
	})

	return cmd
}

// withDatabase loads the configuration, opens the database and runs fn.
func withDatabase(ctx context.Context, rootOpts *rootOptions, fn func(context.Context, *config.Config, *database.DB) error) error {
	cfg, _, err := rootOpts.loadConfig()
	if err != nil {
		return &exitError{code: exitCommandError, err: err}
	}
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-mostly CLI session

	return fn(ctx, cfg, db)
}

type migrationStatus struct {
	Applied []string `json:"applied"`
	Pending []string `json:"pending"`
}

func printMigrationStatus(ctx context.Context, w io.Writer, format string, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	status := migrationStatus{Applied: []string{}, Pending: []string{}}
	for _, m := range applied {
		status.Applied = append(status.Applied, m.Version)
	}
	for _, m := range pending {
		status.Pending = append(status.Pending, m.Version+"_"+m.Name)
	}

	if format == "json" {
		return writeJSON(w, status)
	}
	for _, v := range status.Applied {
		fmt.Fprintf(w, "applied  %s\n", v)
	}
	for _, v := range status.Pending {
		fmt.Fprintf(w, "pending  %s\n", v)
	}
	if len(status.Applied)+len(status.Pending) == 0 {
		fmt.Fprintln(w, "no migrations")
	}
	return nil
}
