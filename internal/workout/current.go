package workout

import "fmt"

// Current tracks the active segment of a selected program. It is not safe
// for concurrent use; a session loop owns it and hands out Progress copies.
type Current struct {
	program  *Program
	index    int
	finished bool

	// reading at the moment the active segment began
	base     Measurement
	achieved int
}

// NewCurrent starts the program at its first segment, with m as the
// baseline reading.
func NewCurrent(p *Program, m Measurement) *Current {
	c := &Current{program: p, base: m}
	if len(p.Segments) == 0 {
		c.finished = true
	}
	return c
}

// Program returns the program this cursor walks.
func (c *Current) Program() *Program { return c.program }

// Index returns the position of the active segment.
func (c *Current) Index() int { return c.index }

// Finished reports whether every segment target has been met.
func (c *Current) Finished() bool { return c.finished }

// Achieved returns the amount of the active segment's target metric
// accumulated since the segment began.
func (c *Current) Achieved() int { return c.achieved }

// Segment returns the active segment, false once the program is finished.
func (c *Current) Segment() (Segment, bool) {
	if c.finished {
		return Segment{}, false
	}
	return c.program.Segments[c.index], true
}

// Completion returns how much of the active segment is done, in [0,1].
// Free segments report 0, a finished program 1.
func (c *Current) Completion() float64 {
	if c.finished {
		return 1
	}
	_, target := c.program.Segments[c.index].Target()
	if target <= 0 {
		return 0
	}
	if c.achieved >= target {
		return 1
	}
	return float64(c.achieved) / float64(target)
}

// Measured accumulates a new reading into the active segment and reports
// what happened. At most one segment advances per reading.
func (c *Current) Measured(m Measurement) Event {
	if c.finished {
		return EventMeasured
	}

	seg := c.program.Segments[c.index]
	metric, target := seg.Target()

	// counters can drop on a device reset, achieved never does
	if v := m.Value(metric) - c.base.Value(metric); v > c.achieved {
		c.achieved = v
	}

	if target <= 0 || c.achieved < target {
		return EventMeasured
	}

	c.base = m
	c.achieved = 0
	if c.index+1 < len(c.program.Segments) {
		c.index++
		return EventSegmentFinished
	}
	c.finished = true
	return EventProgramFinished
}

// ProgramCompletion weighs each segment by its estimated duration:
// passed segments count fully, the active one by its completion.
func (c *Current) ProgramCompletion() float64 {
	if c.finished {
		return 1
	}
	total, done := 0, 0.0
	for i, s := range c.program.Segments {
		w := s.AsDuration()
		total += w
		switch {
		case i < c.index:
			done += float64(w)
		case i == c.index:
			done += float64(w) * c.Completion()
		}
	}
	if total == 0 {
		return 0
	}
	return min(max(done/float64(total), 0), 1)
}

// Progress returns an immutable copy of the cursor state.
func (c *Current) Progress() Progress {
	p := Progress{
		Program:           c.program.Name,
		Segment:           c.index,
		Segments:          len(c.program.Segments),
		Achieved:          c.achieved,
		Completion:        c.Completion(),
		ProgramCompletion: c.ProgramCompletion(),
		Finished:          c.finished,
		Target:            MetricNone,
	}
	if seg, ok := c.Segment(); ok {
		p.Target, p.TargetValue = seg.Target()
		p.Limits = seg
	}
	return p
}

// Progress is a point-in-time view of a Current, safe to share.
type Progress struct {
	Program           string  `json:"program"`
	Segment           int     `json:"segment"`
	Segments          int     `json:"segments"`
	Target            Metric  `json:"target"`
	TargetValue       int     `json:"target_value"`
	Achieved          int     `json:"achieved"`
	Completion        float64 `json:"completion"`
	ProgramCompletion float64 `json:"program_completion"`
	Finished          bool    `json:"finished"`
	Limits            Segment `json:"limits"`
}

// Describe renders what is left of the active segment.
func (p Progress) Describe() string {
	if p.Finished {
		return "finished"
	}
	remaining := max(p.TargetValue-p.Achieved, 0)
	var left string
	switch p.Target {
	case MetricDuration:
		left = fmt.Sprintf("%d:%02d", remaining/60, remaining%60)
	case MetricDistance:
		left = fmt.Sprintf("%d m", remaining)
	case MetricStrokes:
		left = fmt.Sprintf("%d strokes", remaining)
	default:
		left = "free"
	}
	if p.Segments > 1 {
		return fmt.Sprintf("%d/%d %s", p.Segment+1, p.Segments, left)
	}
	return left
}
