// Package history records finished workouts and hands them to sinks such
// as the history database or a FIT exporter.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/workout"
)

const saveTimeout = 30 * time.Second

// Workout is a recorded workout with one sample per measurement.
type Workout struct {
	models.WorkoutRow
	Samples []models.WorkoutSampleRow
}

// Sink stores finished workouts.
type Sink interface {
	Name() string
	Save(ctx context.Context, w *Workout) error
}

// Recorder collects the measurements of the selected program into a
// workout. Record and Finish must be called from one goroutine; sinks run
// in the background.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger
	wg    sync.WaitGroup

	cur     *Workout
	program *workout.Program
	session uuid.UUID
}

// NewRecorder creates a Recorder writing to sinks.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, log: log}
}

// Record adds a measurement of program p. A different program or session
// finishes the workout in progress first.
func (r *Recorder) Record(session uuid.UUID, device string, p *workout.Program, progress workout.Progress, s workout.Snapshot) {
	if r.cur != nil && (r.program != p || r.session != session) {
		r.Finish()
	}
	if r.cur == nil {
		r.program, r.session = p, session
		r.cur = &Workout{WorkoutRow: models.WorkoutRow{
			ID:        uuid.New(),
			SessionID: session,
			ProgramID: p.ID,
			Name:      p.Name,
			Device:    device,
			StartTime: s.Time,
			Segments:  len(p.Segments),
		}}
	}

	w := r.cur
	w.Samples = append(w.Samples, models.WorkoutSampleRow{
		Time:       s.Time,
		WorkoutID:  w.ID,
		Segment:    progress.Segment,
		Duration:   s.Duration,
		Distance:   s.Distance,
		Strokes:    s.Strokes,
		Speed:      s.Speed,
		StrokeRate: s.StrokeRate,
		Pulse:      s.Pulse,
	})
	w.EndTime = s.Time
	w.DurationSec = s.Duration
	w.Distance = s.Distance
	w.Strokes = s.Strokes
	w.Completed = progress.Finished
	w.SegmentsCompleted = progress.Segment
	if progress.Finished {
		w.SegmentsCompleted = progress.Segments
	}
}

// Finish closes the workout in progress, if any, and saves it.
func (r *Recorder) Finish() {
	w := r.cur
	r.cur, r.program, r.session = nil, nil, uuid.Nil
	if w == nil || len(w.Samples) == 0 {
		return
	}
	Summarize(w)
	r.log.Info("workout finished", "workout", w.ID, "program", w.Name,
		"duration", w.DurationSec, "distance", w.Distance, "completed", w.Completed)

	for _, sink := range r.sinks {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := sink.Save(ctx, w); err != nil {
				r.log.Error("saving workout", "sink", sink.Name(), "workout", w.ID, "error", err)
			}
		}()
	}
}

// Close waits for pending saves.
func (r *Recorder) Close() {
	r.wg.Wait()
}

// Summarize fills the heart rate and stroke rate averages of w from its
// samples.
func Summarize(w *Workout) {
	var pulseSum, pulseN, rateSum, rateN, pulseMax int
	for _, s := range w.Samples {
		if s.Pulse > 0 {
			pulseSum += s.Pulse
			pulseN++
			pulseMax = max(pulseMax, s.Pulse)
		}
		if s.StrokeRate > 0 {
			rateSum += s.StrokeRate
			rateN++
		}
	}
	if pulseN > 0 {
		avg, peak := float64(pulseSum)/float64(pulseN), float64(pulseMax)
		w.AvgHeartRate, w.MaxHeartRate = &avg, &peak
	}
	if rateN > 0 {
		avg := float64(rateSum) / float64(rateN)
		w.AvgStrokeRate = &avg
	}
}
