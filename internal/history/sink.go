package history

import (
	"context"
	"fmt"

	"github.com/milnet2/coxswain/internal/models"
)

// sampleBatch keeps inserts below the bind parameter limit.
const sampleBatch = 1000

// WorkoutStore is the part of the history database a DBSink writes to.
type WorkoutStore interface {
	InsertWorkout(ctx context.Context, row models.WorkoutRow) (bool, error)
	InsertWorkoutSamples(ctx context.Context, rows []models.WorkoutSampleRow) (int64, error)
}

// DBSink saves workouts to the history database.
type DBSink struct {
	DB WorkoutStore
}

func (DBSink) Name() string { return "database" }

func (s DBSink) Save(ctx context.Context, w *Workout) error {
	_, err := s.Insert(ctx, w)
	return err
}

// Insert stores w with its samples in batches. A workout already stored
// is left alone and reported as not inserted.
func (s DBSink) Insert(ctx context.Context, w *Workout) (bool, error) {
	inserted, err := s.DB.InsertWorkout(ctx, w.WorkoutRow)
	if err != nil || !inserted {
		return false, err
	}
	for start := 0; start < len(w.Samples); start += sampleBatch {
		end := min(start+sampleBatch, len(w.Samples))
		if _, err := s.DB.InsertWorkoutSamples(ctx, w.Samples[start:end]); err != nil {
			return true, fmt.Errorf("workout %s: %w", w.ID, err)
		}
	}
	return true, nil
}
