// Package fitexport writes recorded workouts as FIT activity files and
// reads them back.
package fitexport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/milnet2/coxswain/internal/history"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
)

// Exporter saves workouts to Dir, one file per workout.
type Exporter struct {
	Dir string
	Log *slog.Logger
}

func (e *Exporter) Name() string { return "fit" }

// Save writes w to Dir as <start>-<id>.fit.
func (e *Exporter) Save(ctx context.Context, w *history.Workout) error {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.fit", w.StartTime.UTC().Format("20060102T150405Z"), w.ID)
	path := filepath.Join(e.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Encode(f, w); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	e.Log.Info("workout exported", "workout", w.ID, "path", path)
	return nil
}

// Encode writes w as a FIT activity with one lap per program segment.
func Encode(out io.Writer, w *history.Workout) error {
	if len(w.Samples) == 0 {
		return fmt.Errorf("workout %s has no samples", w.ID)
	}
	fit := proto.FIT{}
	add := func(m proto.Message) { fit.Messages = append(fit.Messages, m) }

	add((&mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		TimeCreated:  w.StartTime,
		ProductName:  w.Device,
	}).ToMesg(nil))
	add((&mesgdef.Sport{
		Sport:    typedef.SportRowing,
		SubSport: typedef.SubSportIndoorRowing,
		Name:     w.Name,
	}).ToMesg(nil))
	add((&mesgdef.Event{
		Timestamp: w.StartTime,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStart,
	}).ToMesg(nil))

	var laps []*mesgdef.Lap
	lapStart := 0
	for i, s := range w.Samples {
		add(record(s).ToMesg(nil))
		if i == len(w.Samples)-1 || w.Samples[i+1].Segment != s.Segment {
			laps = append(laps, lap(w.Samples, lapStart, i))
			lapStart = i + 1
		}
	}

	add((&mesgdef.Event{
		Timestamp: w.EndTime,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}).ToMesg(nil))
	for _, l := range laps {
		add(l.ToMesg(nil))
	}

	elapsed := millis(w.EndTime.Sub(w.StartTime))
	session := mesgdef.Session{
		Timestamp:        w.EndTime,
		StartTime:        w.StartTime,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   uint32(w.DurationSec) * 1000,
		TotalDistance:    uint32(w.Distance) * 100,
		TotalCycles:      uint32(w.Strokes),
		NumLaps:          uint16(len(laps)),
		Sport:            typedef.SportRowing,
		SubSport:         typedef.SubSportIndoorRowing,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	if w.AvgHeartRate != nil {
		session.AvgHeartRate = uint8(*w.AvgHeartRate)
		session.MaxHeartRate = uint8(*w.MaxHeartRate)
	}
	if w.AvgStrokeRate != nil {
		session.AvgCadence = uint8(*w.AvgStrokeRate)
	}
	add(session.ToMesg(nil))
	add((&mesgdef.Activity{
		Timestamp:      w.EndTime,
		TotalTimerTime: uint32(w.DurationSec) * 1000,
		NumSessions:    1,
		Type:           typedef.ActivityManual,
		Event:          typedef.EventActivity,
		EventType:      typedef.EventTypeStop,
	}).ToMesg(nil))

	if err := encoder.New(out).Encode(&fit); err != nil {
		return fmt.Errorf("encoding workout %s: %w", w.ID, err)
	}
	return nil
}

func record(s models.WorkoutSampleRow) *mesgdef.Record {
	return &mesgdef.Record{
		Timestamp:     s.Time,
		Distance:      uint32(s.Distance) * 100, // cm
		TotalCycles:   uint32(s.Strokes),        // strokes
		EnhancedSpeed: uint32(s.Speed) * 10,     // mm/s
		HeartRate:     uint8(s.Pulse),
		Cadence:       uint8(s.StrokeRate),
	}
}

// lap summarizes samples[from..to]. Cumulative values are taken relative
// to the sample before the lap.
func lap(samples []models.WorkoutSampleRow, from, to int) *mesgdef.Lap {
	last := samples[to]
	var base models.WorkoutSampleRow
	start := samples[from].Time
	if from > 0 {
		base = samples[from-1]
		start = base.Time
	}

	var pulseSum, pulseN, rateSum, pulseMax int
	for _, s := range samples[from : to+1] {
		if s.Pulse > 0 {
			pulseSum += s.Pulse
			pulseN++
			pulseMax = max(pulseMax, s.Pulse)
		}
		rateSum += s.StrokeRate
	}

	l := &mesgdef.Lap{
		Timestamp:        last.Time,
		StartTime:        start,
		TotalElapsedTime: millis(last.Time.Sub(start)),
		TotalTimerTime:   uint32(max(last.Duration-base.Duration, 0)) * 1000,
		TotalDistance:    uint32(max(last.Distance-base.Distance, 0)) * 100,
		TotalCycles:      uint32(max(last.Strokes-base.Strokes, 0)),
		AvgCadence:       uint8(rateSum / (to - from + 1)),
		Sport:            typedef.SportRowing,
		SubSport:         typedef.SubSportIndoorRowing,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	if pulseN > 0 {
		l.AvgHeartRate = uint8(pulseSum / pulseN)
		l.MaxHeartRate = uint8(pulseMax)
	}
	return l
}

func millis(d time.Duration) uint32 {
	return uint32(max(d, 0) / time.Millisecond)
}
