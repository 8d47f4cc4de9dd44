// Package importer loads FIT rowing activities, such as earlier exports or
// files from other rowing apps, into the workout history.
package importer

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/milnet2/coxswain/internal/fitexport"
	"github.com/milnet2/coxswain/internal/history"
)

// Stats tracks import progress.
type Stats struct {
	FilesProcessed int
	FilesSkipped   int
	FilesErrored   int

	WorkoutsInserted   int
	WorkoutsDuplicated int
	SamplesInserted    int64
}

// Importer reads .fit and .fit.gz files from a directory and inserts
// rowing workouts into the history database.
type Importer struct {
	db     history.DBSink
	log    *slog.Logger
	dryRun bool
	stats  Stats
}

// New creates a new Importer.
func New(db history.WorkoutStore, log *slog.Logger, dryRun bool) *Importer {
	return &Importer{db: history.DBSink{DB: db}, log: log, dryRun: dryRun}
}

// Import processes all activity files under dir, in name order.
func (imp *Importer) Import(ctx context.Context, dir string) (*Stats, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isFIT(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return &imp.stats, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &imp.stats, err
		}
		if err := imp.importFile(ctx, f); err != nil {
			return &imp.stats, err
		}
	}
	return &imp.stats, nil
}

// importFile decodes one file. Unreadable files and other sports are
// counted and skipped; database errors abort the import.
func (imp *Importer) importFile(ctx context.Context, path string) error {
	w, err := readFile(path)
	if errors.Is(err, fitexport.ErrNotRowing) {
		imp.log.Info("skipping activity", "file", path, "reason", err)
		imp.stats.FilesSkipped++
		return nil
	}
	if err != nil {
		imp.log.Warn("decode failed", "file", path, "error", err)
		imp.stats.FilesErrored++
		return nil
	}
	if w.Name == "" {
		w.Name = activityName(path)
	}

	imp.stats.FilesProcessed++
	if imp.dryRun {
		imp.stats.WorkoutsInserted++
		imp.stats.SamplesInserted += int64(len(w.Samples))
		return nil
	}

	inserted, err := imp.db.Insert(ctx, w)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", filepath.Base(path), err)
	}
	if !inserted {
		imp.stats.WorkoutsDuplicated++
		return nil
	}
	imp.stats.WorkoutsInserted++
	imp.stats.SamplesInserted += int64(len(w.Samples))
	imp.log.Info("workout imported", "file", path, "workout", w.ID, "distance", w.Distance)
	return nil
}

func readFile(path string) (*history.Workout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gunzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return fitexport.Decode(r)
}

func isFIT(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".fit") || strings.HasSuffix(lower, ".fit.gz")
}

// activityName names a workout after its file when the activity has no
// name of its own.
func activityName(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".gz", ".fit"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
		}
	}
	return base
}
