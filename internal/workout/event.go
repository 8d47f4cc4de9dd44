package workout

import "fmt"

// Event is the outcome of one successful measurement cycle.
type Event int

const (
	EventMeasured Event = iota
	EventSegmentFinished
	EventProgramFinished
	EventNoProgram
)

var eventNames = [...]string{
	EventMeasured:        "MEASURED",
	EventSegmentFinished: "SEGMENT_FINISHED",
	EventProgramFinished: "PROGRAM_FINISHED",
	EventNoProgram:       "NO_PROGRAM",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("Event(%d)", int(e))
	}
	return eventNames[e]
}

// MarshalText renders the event by name in JSON payloads.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses an event name as written by MarshalText.
func (e *Event) UnmarshalText(b []byte) error {
	for i, name := range eventNames {
		if name == string(b) {
			*e = Event(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event %q", b)
}
