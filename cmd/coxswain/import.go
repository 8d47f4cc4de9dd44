package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/importer"
	"github.com/milnet2/coxswain/internal/storage"
)

func newImportCmd(configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import FIT rowing activities into the history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("no history database configured")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			dsn := cfg.Database.DSN()
			if err := storage.RunMigrations(dsn); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			db, err := storage.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connecting database: %w", err)
			}
			defer db.Close()

			stats, err := importer.New(db, log, dryRun).Import(ctx, args[0])
			if stats != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "files: %d processed, %d skipped, %d errored\n",
					stats.FilesProcessed, stats.FilesSkipped, stats.FilesErrored)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "workouts: %d inserted, %d duplicate, %d samples\n",
					stats.WorkoutsInserted, stats.WorkoutsDuplicated, stats.SamplesInserted)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse files without writing to the database")
	return cmd
}
