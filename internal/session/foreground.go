package session

import (
	"log/slog"
	"math"

	"github.com/milnet2/coxswain/internal/workout"
)

// Notifier renders session state, e.g. as a desktop or phone notification.
// All methods are called from the dispatcher goroutine.
type Notifier interface {
	// Show replaces the notification. completion is in [0,1].
	Show(text string, completion float64, headsUp bool)
	// Cue is called for every applied event, e.g. to announce segments.
	Cue(e workout.Event, st Status)
	// Hide removes the notification.
	Hide()
}

// foreground skips notifications whose text and whole percentage did not
// change since the last one.
type foreground struct {
	n       Notifier
	text    string
	percent int
	visible bool
}

func (f *foreground) show(text string, completion float64, headsUp bool) {
	percent := int(math.Floor(completion * 100))
	if f.visible && text == f.text && percent == f.percent {
		return
	}
	f.text, f.percent, f.visible = text, percent, true
	f.n.Show(text, completion, headsUp)
}

func (f *foreground) hide() {
	if !f.visible {
		return
	}
	f.visible = false
	f.text, f.percent = "", 0
	f.n.Hide()
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Show(text string, completion float64, headsUp bool) {
	n.Log.Info("notification", "text", text, "completion", math.Round(completion*100)/100, "heads_up", headsUp)
}

func (n LogNotifier) Cue(e workout.Event, st Status) {
	switch e {
	case workout.EventSegmentFinished:
		n.Log.Info("segment finished", "program", st.Program.Name, "next", st.Progress.Segment+1)
	case workout.EventProgramFinished:
		n.Log.Info("program finished", "program", st.Program.Name, "distance", st.Snapshot.Distance)
	}
	for _, d := range st.Deviations {
		n.Log.Debug("limit", "metric", d.Metric, "limit", d.Limit, "actual", d.Actual, "high", d.High)
	}
}

func (n LogNotifier) Hide() {
	n.Log.Info("notification removed")
}
