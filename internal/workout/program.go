package workout

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrEmptyProgram is returned when a program has no segments to row.
var ErrEmptyProgram = errors.New("program has no segments")

// Metric names the quantity a segment target or limit is measured in.
type Metric string

const (
	MetricNone       Metric = "none"
	MetricDuration   Metric = "duration"
	MetricDistance   Metric = "distance"
	MetricStrokes    Metric = "strokes"
	MetricSpeed      Metric = "speed"
	MetricStrokeRate Metric = "stroke_rate"
	MetricPulse      Metric = "pulse"
)

// Reference pace used to weigh distance and stroke segments against
// duration segments.
const (
	referenceSpeed      = 4 // m/s
	referenceStrokeTime = 3 // s per stroke
)

// Program is a named, ordered list of segments.
type Program struct {
	ID       uuid.UUID `json:"id" yaml:"id,omitempty"`
	Name     string    `json:"name" yaml:"name"`
	Segments []Segment `json:"segments" yaml:"segments"`
}

// Segment is one step of a program. Duration, Distance and Strokes are
// targets, the first non-zero one wins. Speed, StrokeRate and Pulse are
// limits monitored while the segment is active. Zero means unset.
type Segment struct {
	Duration   int `json:"duration,omitempty" yaml:"duration,omitempty"`       // seconds
	Distance   int `json:"distance,omitempty" yaml:"distance,omitempty"`       // meters
	Strokes    int `json:"strokes,omitempty" yaml:"strokes,omitempty"`         // count
	Speed      int `json:"speed,omitempty" yaml:"speed,omitempty"`             // cm/s, minimum
	StrokeRate int `json:"stroke_rate,omitempty" yaml:"stroke_rate,omitempty"` // strokes per minute, minimum
	Pulse      int `json:"pulse,omitempty" yaml:"pulse,omitempty"`             // bpm, maximum
}

// Target returns the metric and value the segment completes on.
func (s Segment) Target() (Metric, int) {
	switch {
	case s.Duration > 0:
		return MetricDuration, s.Duration
	case s.Distance > 0:
		return MetricDistance, s.Distance
	case s.Strokes > 0:
		return MetricStrokes, s.Strokes
	}
	return MetricNone, 0
}

// Free reports whether the segment has no target and never completes on
// its own.
func (s Segment) Free() bool {
	m, _ := s.Target()
	return m == MetricNone
}

// AsDuration estimates the segment length in seconds.
func (s Segment) AsDuration() int {
	switch m, v := s.Target(); m {
	case MetricDuration:
		return v
	case MetricDistance:
		return v / referenceSpeed
	case MetricStrokes:
		return v * referenceStrokeTime
	}
	return 0
}

// Validate checks the program can be selected.
func (p *Program) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("program name is required")
	}
	if len(p.Segments) == 0 {
		return ErrEmptyProgram
	}
	for i, s := range p.Segments {
		if s.Duration < 0 || s.Distance < 0 || s.Strokes < 0 ||
			s.Speed < 0 || s.StrokeRate < 0 || s.Pulse < 0 {
			return fmt.Errorf("segment %d: negative value", i+1)
		}
	}
	return nil
}

// Duration sums the estimated length of all segments in seconds.
func (p *Program) Duration() int {
	total := 0
	for _, s := range p.Segments {
		total += s.AsDuration()
	}
	return total
}

// ReadProgram decodes a program from YAML (or JSON) and validates it.
func ReadProgram(r io.Reader) (*Program, error) {
	var p Program
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding program: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
