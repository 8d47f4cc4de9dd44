package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/milnet2/coxswain/internal/models"
)

const workoutColumns = `id, session_id, program_id, name, device, start_time, end_time, duration_sec,
	 distance, strokes, segments, segments_completed, completed,
	 avg_heart_rate, max_heart_rate, avg_stroke_rate`

// InsertWorkout inserts a workout row. Returns true if inserted, false if duplicate.
func (db *DB) InsertWorkout(ctx context.Context, row models.WorkoutRow) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`INSERT INTO workouts (`+workoutColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT DO NOTHING`,
		row.ID, row.SessionID, row.ProgramID, row.Name, row.Device, row.StartTime, row.EndTime,
		row.DurationSec, row.Distance, row.Strokes, row.Segments, row.SegmentsCompleted,
		row.Completed, row.AvgHeartRate, row.MaxHeartRate, row.AvgStrokeRate)
	if err != nil {
		return false, fmt.Errorf("inserting workout: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertWorkoutSamples batch-inserts workout samples. Returns count inserted.
func (db *DB) InsertWorkoutSamples(ctx context.Context, rows []models.WorkoutSampleRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `INSERT INTO workout_samples (time, workout_id, segment, duration, distance, strokes, speed, stroke_rate, pulse) VALUES `
	args := make([]any, 0, len(rows)*9)
	valueStrings := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * 9
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args, r.Time, r.WorkoutID, r.Segment, r.Duration, r.Distance,
			r.Strokes, r.Speed, r.StrokeRate, r.Pulse)
	}

	query += strings.Join(valueStrings, ",") + " ON CONFLICT DO NOTHING"

	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting workout samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// WorkoutDetail is a workout with its samples.
type WorkoutDetail struct {
	models.WorkoutRow
	Samples []models.WorkoutSampleRow `json:"samples"`
}

// QueryWorkouts retrieves workouts started in a time range, newest first.
func (db *DB) QueryWorkouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+workoutColumns+`
		 FROM workouts
		 WHERE start_time >= $1 AND start_time < $2
		 ORDER BY start_time DESC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("querying workouts: %w", err)
	}
	defer rows.Close()

	return scanWorkoutRows(rows)
}

// GetWorkout retrieves a single workout by ID with its samples.
func (db *DB) GetWorkout(ctx context.Context, workoutID uuid.UUID) (*WorkoutDetail, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+workoutColumns+`
		 FROM workouts
		 WHERE id = $1`,
		workoutID)

	var w models.WorkoutRow
	if err := scanWorkout(row, &w); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying workout: %w", err)
	}

	detail := &WorkoutDetail{WorkoutRow: w}

	rows, err := db.Pool.Query(ctx,
		`SELECT time, workout_id, segment, duration, distance, strokes, speed, stroke_rate, pulse
		 FROM workout_samples
		 WHERE workout_id = $1
		 ORDER BY time ASC`,
		workoutID)
	if err != nil {
		return nil, fmt.Errorf("querying workout samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.WorkoutSampleRow
		if err := rows.Scan(&s.Time, &s.WorkoutID, &s.Segment, &s.Duration, &s.Distance,
			&s.Strokes, &s.Speed, &s.StrokeRate, &s.Pulse); err != nil {
			return nil, fmt.Errorf("scanning workout sample: %w", err)
		}
		detail.Samples = append(detail.Samples, s)
	}

	return detail, rows.Err()
}

func scanWorkout(row interface{ Scan(dest ...any) error }, w *models.WorkoutRow) error {
	return row.Scan(&w.ID, &w.SessionID, &w.ProgramID, &w.Name, &w.Device, &w.StartTime, &w.EndTime,
		&w.DurationSec, &w.Distance, &w.Strokes, &w.Segments, &w.SegmentsCompleted, &w.Completed,
		&w.AvgHeartRate, &w.MaxHeartRate, &w.AvgStrokeRate)
}

func scanWorkoutRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.WorkoutRow, error) {
	var result []models.WorkoutRow
	for rows.Next() {
		var w models.WorkoutRow
		if err := scanWorkout(rows, &w); err != nil {
			return nil, fmt.Errorf("scanning workout: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
