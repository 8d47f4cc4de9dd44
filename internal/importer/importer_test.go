package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/fitexport"
	"github.com/milnet2/coxswain/internal/history"
	"github.com/milnet2/coxswain/internal/models"
)

type memoryStore struct {
	workouts map[uuid.UUID]models.WorkoutRow
	samples  int
}

func (m *memoryStore) InsertWorkout(_ context.Context, row models.WorkoutRow) (bool, error) {
	if _, ok := m.workouts[row.ID]; ok {
		return false, nil
	}
	m.workouts[row.ID] = row
	return true, nil
}

func (m *memoryStore) InsertWorkoutSamples(_ context.Context, rows []models.WorkoutSampleRow) (int64, error) {
	m.samples += len(rows)
	return int64(len(rows)), nil
}

func rowing(t *testing.T, start time.Time, name string, seconds int) []byte {
	t.Helper()
	w := &history.Workout{WorkoutRow: models.WorkoutRow{ID: uuid.New(), Name: name, StartTime: start, EndTime: start.Add(time.Duration(seconds) * time.Second)}}
	for sec := 1; sec <= seconds; sec++ {
		w.Samples = append(w.Samples, models.WorkoutSampleRow{
			Time:     start.Add(time.Duration(sec) * time.Second),
			Duration: sec,
			Distance: sec * 4,
			Strokes:  sec / 3,
		})
	}
	w.DurationSec, w.Distance = seconds, seconds*4
	var buf bytes.Buffer
	if err := fitexport.Encode(&buf, w); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestImport verifies plain and gzipped activities are imported, broken
// files counted, and a second run only finds duplicates.
func TestImport(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 2, 1, 6, 30, 0, 0, time.UTC)

	writeFile(t, filepath.Join(dir, "a.fit"), rowing(t, start, "Morning", 30))

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(rowing(t, start.AddDate(0, 0, 1), "", 20))
	zw.Close()
	if err := os.Mkdir(filepath.Join(dir, "older"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "older", "b.FIT.gz"), gz.Bytes())

	writeFile(t, filepath.Join(dir, "broken.fit"), []byte("not a fit file"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))

	store := &memoryStore{workouts: map[uuid.UUID]models.WorkoutRow{}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	stats, err := New(store, log, false).Import(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesProcessed != 2 || stats.FilesErrored != 1 || stats.WorkoutsInserted != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SamplesInserted != 50 || store.samples != 50 {
		t.Errorf("samples = %d/%d, want 50", stats.SamplesInserted, store.samples)
	}
	names := map[string]bool{}
	for _, w := range store.workouts {
		names[w.Name] = true
	}
	if !names["Morning"] || !names["b"] {
		t.Errorf("names = %v, want Morning and b", names)
	}

	stats, err = New(store, log, false).Import(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.WorkoutsDuplicated != 2 || stats.WorkoutsInserted != 0 {
		t.Errorf("second run stats = %+v", stats)
	}
}

// TestImportDryRun verifies a dry run counts without writing.
func TestImportDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.fit"), rowing(t, time.Date(2026, 2, 1, 6, 30, 0, 0, time.UTC), "x", 10))

	store := &memoryStore{workouts: map[uuid.UUID]models.WorkoutRow{}}
	stats, err := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), true).Import(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.WorkoutsInserted != 1 || len(store.workouts) != 0 {
		t.Errorf("stats = %+v, stored = %d", stats, len(store.workouts))
	}
}

// TestActivityName verifies file extensions are stripped.
func TestActivityName(t *testing.T) {
	tests := map[string]string{
		"/data/2026-01-05.fit":    "2026-01-05",
		"/data/evening.FIT.gz":    "evening",
		"/data/no-extension.data": "no-extension.data",
	}
	for path, want := range tests {
		if got := activityName(path); got != want {
			t.Errorf("activityName(%q) = %q, want %q", path, got, want)
		}
	}
}
