package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/config"
	"github.com/milnet2/coxswain/internal/fitexport"
	"github.com/milnet2/coxswain/internal/heart"
	"github.com/milnet2/coxswain/internal/history"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/storage"
	"github.com/milnet2/coxswain/internal/workout"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coxswain",
		Short:         "Rowing machine session engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRowCmd(&configPath))
	root.AddCommand(newProgramsCmd(&configPath))
	root.AddCommand(newHeartCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	root.AddCommand(newImportCmd(&configPath))
	root.AddCommand(newMCPCmd(&configPath))
	return root
}

// loadConfig reads the config and builds the logger all commands share.
func loadConfig(path string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	return cfg, log, nil
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	return storage.Open(cfg.State.Dir, storage.Defaults{
		OpenEnd: cfg.Session.OpenEnd,
		HeadsUp: cfg.Session.HeadsUp,
	})
}

// deviceOpener opens the machine at path, falling back to the configured
// port. Without either the session runs on the simulator.
func deviceOpener(cfg *config.Config, log *slog.Logger) func(string) (rower.Device, error) {
	return func(path string) (rower.Device, error) {
		if path == "" {
			path = cfg.Rower.Device
		}
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("rowing machine %s: %w", path, err)
		}
		return rower.NewWaterRower(path, cfg.Rower.Baud, log), nil
	}
}

// recording holds the workout recorder and the history database behind it.
type recording struct {
	recorder *history.Recorder
	db       *storage.DB
}

// newRecording wires the history sinks that are configured. The database
// is migrated before use.
func newRecording(ctx context.Context, cfg *config.Config, log *slog.Logger) (*recording, error) {
	rec := &recording{}
	var sinks []history.Sink
	if cfg.Database.Enabled() {
		dsn := cfg.Database.DSN()
		if err := storage.RunMigrations(dsn); err != nil {
			return nil, fmt.Errorf("migrating history database: %w", err)
		}
		db, err := storage.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting history database: %w", err)
		}
		log.Info("history database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)
		rec.db = db
		sinks = append(sinks, history.DBSink{DB: db})
	}
	if cfg.Export.FITDir != "" {
		if err := os.MkdirAll(cfg.Export.FITDir, 0o755); err != nil {
			rec.close()
			return nil, fmt.Errorf("creating FIT directory: %w", err)
		}
		sinks = append(sinks, &fitexport.Exporter{Dir: cfg.Export.FITDir, Log: log})
	}
	rec.recorder = history.NewRecorder(log, sinks...)
	return rec, nil
}

// close waits for pending saves before the database goes away.
func (r *recording) close() {
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.db != nil {
		r.db.Close()
	}
}

// newManager builds the session manager shared by serve and row.
func newManager(cfg *config.Config, store *storage.Store, rec *recording, scanner *heart.Scanner, log *slog.Logger) *session.Manager {
	opts := session.Options{
		Store:         store,
		Log:           log,
		Simulated:     func() rower.Device { return rower.NewSimulated(cfg.Rower.Tick) },
		DeselectOnEnd: cfg.Rower.DeselectOnDisconnect,
	}
	if rec != nil && rec.recorder != nil {
		opts.Recorder = rec.recorder
	}
	if id := cfg.Heart.DeviceID; id != "" && scanner != nil {
		opts.Heart = func() session.Heart { return heart.NewBridge(scanner, id, log) }
	}
	return session.New(opts)
}

// findProgram looks a program up by id or by case-insensitive name.
func findProgram(ctx context.Context, store *storage.Store, ref string) (*workout.Program, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return store.Program(ctx, id)
	}
	programs, err := store.Programs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range programs {
		if strings.EqualFold(programs[i].Name, ref) {
			return &programs[i], nil
		}
	}
	return nil, fmt.Errorf("no program named %q", ref)
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply history database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath, os.Stdout)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("no history database configured")
			}
			if err := storage.RunMigrations(cfg.Database.DSN()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
