package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/workout"
)

// rowing is one session loop. Its pointer is the identity the manager
// compares against to tell whether the loop is still current.
type rowing struct {
	id     uuid.UUID
	m      *Manager
	device rower.Device
	heart  Heart
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	teardown sync.Once
	last     workout.Snapshot
}

// delivery is the result of one poll, applied on the dispatcher.
type delivery struct {
	loop       *rowing
	program    *workout.Program
	event      workout.Event
	progress   workout.Progress
	snapshot   workout.Snapshot
	deviations []workout.Deviation
}

func (r *rowing) isCurrent() bool {
	return r.m.current.Load() == r
}

func (r *rowing) run() {
	defer close(r.done)
	log := r.m.log.With("session", r.id)

	r.state.Store(int32(StateOpening))
	if err := r.device.Open(r.ctx); err != nil {
		log.Warn("opening device failed", "device", r.device.Name(), "error", err)
		r.close("open failed")
		return
	}
	r.state.Store(int32(StateRunning))
	r.m.dispatcher.Post(func() { r.m.opened(r) })

	var (
		program *workout.Program
		cur     *workout.Current
		reason  string
	)
	for {
		if !r.isCurrent() {
			reason = "superseded"
			break
		}

		if p := r.m.selection.Load(); p != program {
			program = p
			cur = nil
			if p != nil {
				cur = workout.NewCurrent(p, workout.Measurement{})
			}
			if err := r.device.Reset(); err != nil {
				log.Warn("resetting device failed", "error", err)
			}
		}

		m, err := r.device.Poll(r.ctx)
		if err != nil {
			switch {
			case !r.isCurrent():
				reason = "superseded"
			case errors.Is(err, rower.ErrEnded):
				reason = "device ended"
			default:
				reason = "transport failure"
				log.Error("polling device failed", "device", r.device.Name(), "error", err)
			}
			if reason != "superseded" && r.m.deselectOnEnd && program != nil {
				p := program
				r.m.dispatcher.Post(func() { r.m.deselect(p) })
			}
			break
		}

		if r.heart != nil {
			r.heart.Pulse(&m)
		}

		d := delivery{
			loop:     r,
			program:  program,
			event:    workout.EventNoProgram,
			snapshot: workout.Snapshot{Measurement: m, Time: time.Now()},
		}
		if cur != nil {
			if seg, ok := cur.Segment(); ok {
				d.deviations = workout.Limits(seg, m)
			}
			d.event = cur.Measured(m)
			d.progress = cur.Progress()
		}
		r.last = d.snapshot
		r.m.dispatcher.Post(func() { r.m.apply(d) })
	}

	log.Info("session closing", "reason", reason)
	r.close(reason)
}

// close releases the device and heart bridge exactly once and hands the
// rest of the teardown to the dispatcher.
func (r *rowing) close(reason string) {
	r.teardown.Do(func() {
		r.state.Store(int32(StateClosing))
		r.cancel()
		if err := r.device.Close(); err != nil {
			r.m.log.Warn("closing device failed", "session", r.id, "error", err)
		}
		if r.heart != nil {
			r.heart.Destroy()
		}
		last := r.last
		r.state.Store(int32(StateStopped))
		r.m.dispatcher.Post(func() { r.m.stopped(r, reason, last) })
	})
}

// opened publishes a newly connected device.
func (m *Manager) opened(r *rowing) {
	if !r.isCurrent() {
		return
	}
	m.mu.Lock()
	m.status.Session = r.id
	m.status.Device = r.device.Name()
	m.mu.Unlock()

	if m.selection.Load() == nil {
		m.fg.show(connectedText(r.device.Name()), 0, false)
	}
	m.changed()
}

// apply publishes a delivery if its session and program are still current.
func (m *Manager) apply(d delivery) {
	if !d.loop.isCurrent() {
		m.log.Debug("dropping stale delivery", "session", d.loop.id, "event", d.event)
		return
	}
	if d.program != m.selection.Load() {
		m.log.Debug("dropping delivery for replaced program", "session", d.loop.id, "event", d.event)
		return
	}

	event := d.event
	m.mu.Lock()
	m.status.Session = d.loop.id
	m.status.Device = d.loop.device.Name()
	m.status.Program = d.program
	m.status.Event = &event
	m.status.Snapshot = d.snapshot
	m.status.Deviations = d.deviations
	m.status.Progress = nil
	if d.program != nil {
		progress := d.progress
		m.status.Progress = &progress
	}
	m.mu.Unlock()

	headsUp := m.headsUp()
	var text string
	var completion float64
	if d.program == nil {
		text = connectedText(d.loop.device.Name())
	} else {
		text = d.program.Name + " - " + d.progress.Describe()
		completion = d.progress.ProgramCompletion
	}

	m.mu.Lock()
	m.status.Text = text
	m.status.Completion = completion
	m.status.HeadsUp = headsUp
	st := m.status
	m.mu.Unlock()
	st.State = m.State()

	m.fg.show(text, completion, headsUp)
	m.fg.n.Cue(d.event, st)
	if d.program != nil && m.recorder != nil {
		m.recorder.Record(d.loop.id, d.loop.device.Name(), d.program, d.progress, d.snapshot)
	}

	if d.event == workout.EventProgramFinished && !m.openEnd() {
		m.deselect(d.program)
	}
	m.changed()
}

// stopped finishes the teardown of a closed loop.
func (m *Manager) stopped(r *rowing, reason string, last workout.Snapshot) {
	if !last.Time.IsZero() {
		if err := m.store.SaveSnapshot(context.Background(), last); err != nil {
			m.log.Warn("saving snapshot", "error", err)
		}
	}
	// deliveries queued before this task were still applied
	m.current.CompareAndSwap(r, nil)
	m.stopping.CompareAndSwap(r, nil)
	// a newer session owns the presentation now
	if m.current.Load() != nil {
		return
	}
	if m.recorder != nil {
		m.recorder.Finish()
	}

	m.mu.Lock()
	if m.status.Session == r.id {
		m.status.Session = uuid.Nil
		m.status.Device = ""
		m.status.Event = nil
		m.status.Deviations = nil
		m.status.Text = ""
		m.status.Completion = 0
		m.status.HeadsUp = false
	}
	m.mu.Unlock()

	m.fg.hide()
	m.log.Info("session stopped", "session", r.id, "reason", reason)
	m.changed()
}

func (m *Manager) openEnd() bool {
	open, err := m.store.OpenEnd(context.Background())
	if err != nil {
		m.log.Warn("reading open end setting", "error", err)
		return false
	}
	return open
}
