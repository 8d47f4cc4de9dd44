// Package models holds the rows exchanged with the history database.
package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkoutRow is a row of the workouts table.
type WorkoutRow struct {
	ID                uuid.UUID `json:"id"`
	SessionID         uuid.UUID `json:"session_id"`
	ProgramID         uuid.UUID `json:"program_id"`
	Name              string    `json:"name"`
	Device            string    `json:"device,omitempty"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	DurationSec       int       `json:"duration_sec"`
	Distance          int       `json:"distance_m"`
	Strokes           int       `json:"strokes"`
	Segments          int       `json:"segments"`
	SegmentsCompleted int       `json:"segments_completed"`
	Completed         bool      `json:"completed"`
	AvgHeartRate      *float64  `json:"avg_heart_rate,omitempty"`
	MaxHeartRate      *float64  `json:"max_heart_rate,omitempty"`
	AvgStrokeRate     *float64  `json:"avg_stroke_rate,omitempty"`
}

// WorkoutSampleRow is one measurement of a workout, a row of the
// workout_samples table.
type WorkoutSampleRow struct {
	Time       time.Time `json:"time"`
	WorkoutID  uuid.UUID `json:"workout_id"`
	Segment    int       `json:"segment"`
	Duration   int       `json:"duration"`
	Distance   int       `json:"distance"`
	Strokes    int       `json:"strokes"`
	Speed      int       `json:"speed"`
	StrokeRate int       `json:"stroke_rate"`
	Pulse      int       `json:"pulse"`
}
