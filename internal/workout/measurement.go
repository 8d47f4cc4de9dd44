package workout

import "time"

// Measurement is one tuple polled from a rowing machine. Duration,
// Distance and Strokes are cumulative since the last device reset.
type Measurement struct {
	Duration   int `json:"duration"`    // seconds
	Distance   int `json:"distance"`    // meters
	Strokes    int `json:"strokes"`     // count
	Speed      int `json:"speed"`       // cm/s
	StrokeRate int `json:"stroke_rate"` // strokes per minute
	Pulse      int `json:"pulse"`       // bpm, 0 when unknown
}

// Value returns the cumulative reading for a target metric.
func (m Measurement) Value(metric Metric) int {
	switch metric {
	case MetricDuration, MetricNone:
		return m.Duration
	case MetricDistance:
		return m.Distance
	case MetricStrokes:
		return m.Strokes
	case MetricSpeed:
		return m.Speed
	case MetricStrokeRate:
		return m.StrokeRate
	case MetricPulse:
		return m.Pulse
	}
	return 0
}

// Snapshot is the latest known measurement of a session.
type Snapshot struct {
	Measurement
	Time time.Time `json:"time"`
}
