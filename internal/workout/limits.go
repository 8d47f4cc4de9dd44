package workout

// Deviation is a limit the current reading violates.
type Deviation struct {
	Metric Metric `json:"metric"`
	Limit  int    `json:"limit"`
	Actual int    `json:"actual"`
	High   bool   `json:"high"`
}

// Limits checks a reading against the limits of a segment. Speed and
// stroke rate are minimums, pulse is a maximum. Unknown readings (zero)
// never deviate.
func Limits(s Segment, m Measurement) []Deviation {
	var out []Deviation
	if s.Speed > 0 && m.Speed > 0 && m.Speed < s.Speed {
		out = append(out, Deviation{Metric: MetricSpeed, Limit: s.Speed, Actual: m.Speed})
	}
	if s.StrokeRate > 0 && m.StrokeRate > 0 && m.StrokeRate < s.StrokeRate {
		out = append(out, Deviation{Metric: MetricStrokeRate, Limit: s.StrokeRate, Actual: m.StrokeRate})
	}
	if s.Pulse > 0 && m.Pulse > 0 && m.Pulse > s.Pulse {
		out = append(out, Deviation{Metric: MetricPulse, Limit: s.Pulse, Actual: m.Pulse, High: true})
	}
	return out
}
