package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/workout"
)

// State is the life-cycle phase of a session loop.
type State int32

const (
	StateStopped State = iota
	StateOpening
	StateRunning
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateStopped; st <= StateClosing; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Status is what presentation layers render. Text and Completion are the
// de-duplicated notification contents.
type Status struct {
	State      State               `json:"state"`
	Session    uuid.UUID           `json:"session"`
	Device     string              `json:"device,omitempty"`
	Program    *workout.Program    `json:"program,omitempty"`
	Event      *workout.Event      `json:"event,omitempty"`
	Progress   *workout.Progress   `json:"progress,omitempty"`
	Snapshot   workout.Snapshot    `json:"snapshot"`
	Deviations []workout.Deviation `json:"deviations,omitempty"`
	Text       string              `json:"text"`
	Completion float64             `json:"completion"`
	HeadsUp    bool                `json:"heads_up"`
}
