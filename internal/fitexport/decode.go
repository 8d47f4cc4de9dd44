package fitexport

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/history"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
)

// ErrNotRowing is returned for activities of another sport.
var ErrNotRowing = errors.New("not a rowing activity")

// importNamespace derives workout ids from start times, so a file
// imported twice maps to the same workout.
var importNamespace = uuid.MustParse("6f1d7c2e-4b8a-5e3f-9a61-c0c5a1b2d3e4")

// Decode reads a FIT rowing activity. Laps become segments; totals come
// from the session message when present, otherwise from the last record.
func Decode(in io.Reader) (*history.Workout, error) {
	fit, err := decoder.New(in).Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding FIT: %w", err)
	}

	var (
		fileID  *mesgdef.FileId
		sport   *mesgdef.Sport
		session *mesgdef.Session
		records []*mesgdef.Record
		laps    []*mesgdef.Lap
	)
	for i := range fit.Messages {
		m := &fit.Messages[i]
		switch m.Num {
		case typedef.MesgNumFileId:
			fileID = mesgdef.NewFileId(m)
		case typedef.MesgNumSport:
			sport = mesgdef.NewSport(m)
		case typedef.MesgNumSession:
			if session == nil {
				session = mesgdef.NewSession(m)
			}
		case typedef.MesgNumRecord:
			records = append(records, mesgdef.NewRecord(m))
		case typedef.MesgNumLap:
			laps = append(laps, mesgdef.NewLap(m))
		}
	}
	if session != nil && session.Sport != typedef.SportRowing {
		return nil, fmt.Errorf("%w: %s", ErrNotRowing, session.Sport)
	}
	if len(records) == 0 {
		return nil, errors.New("activity has no records")
	}

	start := records[0].Timestamp
	if session != nil && !session.StartTime.IsZero() {
		start = session.StartTime
	}
	w := &history.Workout{WorkoutRow: models.WorkoutRow{
		ID:        uuid.NewSHA1(importNamespace, []byte(start.UTC().Format(time.RFC3339Nano))),
		StartTime: start,
		EndTime:   records[len(records)-1].Timestamp,
		Segments:  max(len(laps), 1),
	}}
	if fileID != nil {
		w.Device = fileID.ProductName
	}
	if sport != nil {
		w.Name = sport.Name
	}

	lap := 0
	for _, r := range records {
		for lap < len(laps)-1 && r.Timestamp.After(laps[lap].Timestamp) {
			lap++
		}
		w.Samples = append(w.Samples, models.WorkoutSampleRow{
			Time:       r.Timestamp,
			WorkoutID:  w.ID,
			Segment:    lap,
			Duration:   int(r.Timestamp.Sub(start) / time.Second),
			Distance:   valid32(r.Distance) / 100,
			Strokes:    valid32(r.TotalCycles),
			Speed:      valid32(r.EnhancedSpeed) / 10,
			StrokeRate: valid8(r.Cadence),
			Pulse:      valid8(r.HeartRate),
		})
	}

	last := w.Samples[len(w.Samples)-1]
	w.DurationSec, w.Distance, w.Strokes = last.Duration, last.Distance, last.Strokes
	if session != nil {
		if v := valid32(session.TotalTimerTime); v > 0 {
			w.DurationSec = v / 1000
		}
		if v := valid32(session.TotalDistance); v > 0 {
			w.Distance = v / 100
		}
		if v := valid32(session.TotalCycles); v > 0 {
			w.Strokes = v
		}
		w.Completed = true
		w.SegmentsCompleted = w.Segments
	}
	history.Summarize(w)
	return w, nil
}

// valid8 and valid32 map the FIT invalid marker to zero.
func valid8(v uint8) int {
	if v == math.MaxUint8 {
		return 0
	}
	return int(v)
}

func valid32(v uint32) int {
	if v == math.MaxUint32 {
		return 0
	}
	return int(v)
}
