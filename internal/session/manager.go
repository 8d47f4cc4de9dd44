// Package session runs rowing sessions: a polling loop per connected
// machine, the selected program, and the consumer that publishes results.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/workout"
)

// headsUpDelay is how long nobody must be watching before a notification
// asks for attention.
const headsUpDelay = 2 * time.Second

// Store persists settings and state the session manager relies on.
type Store interface {
	OpenEnd(ctx context.Context) (bool, error)
	HeadsUp(ctx context.Context) (bool, error)
	SetSelectedProgram(ctx context.Context, id uuid.UUID) error
	LastSnapshot(ctx context.Context) (workout.Snapshot, error)
	SaveSnapshot(ctx context.Context, s workout.Snapshot) error
}

// Heart overlays heart-rate readings onto measurements. One is created
// per session and destroyed when the session closes.
type Heart interface {
	Pulse(m *workout.Measurement)
	Destroy()
}

// Recorder keeps the history of a workout. It is called from the
// dispatcher goroutine.
type Recorder interface {
	Record(session uuid.UUID, device string, p *workout.Program, progress workout.Progress, s workout.Snapshot)
	Finish()
}

// Options configures a Manager. Store and Log are required.
type Options struct {
	Store    Store
	Log      *slog.Logger
	Notifier Notifier
	Recorder Recorder
	// Heart creates the heart bridge of a new session, nil for none.
	Heart func() Heart
	// Simulated creates the device used when Start is given none.
	Simulated func() rower.Device
	// DeselectOnEnd deselects the program when a device disconnects.
	DeselectOnEnd bool
}

// Manager owns the program selection and at most one current session.
// Results of a session are applied on a single dispatcher goroutine, and
// only while the session is still current.
type Manager struct {
	store         Store
	log           *slog.Logger
	recorder      Recorder
	heart         func() Heart
	simulated     func() rower.Device
	deselectOnEnd bool

	dispatcher *Dispatcher
	loops      sync.WaitGroup

	selection atomic.Pointer[workout.Program]
	current   atomic.Pointer[rowing]
	// a loop Stop cancelled that has not finished its teardown
	stopping atomic.Pointer[rowing]

	// written on the dispatcher goroutine only
	fg foreground

	mu              sync.RWMutex
	status          Status
	listeners       map[int]func()
	nextListener    int
	unattendedSince time.Time
	now             func() time.Time
}

// New creates a Manager and starts its dispatcher.
func New(opts Options) *Manager {
	m := &Manager{
		store:         opts.Store,
		log:           opts.Log,
		recorder:      opts.Recorder,
		heart:         opts.Heart,
		simulated:     opts.Simulated,
		deselectOnEnd: opts.DeselectOnEnd,
		dispatcher:    NewDispatcher(),
		listeners:     make(map[int]func()),
		now:           time.Now,
	}
	if m.simulated == nil {
		m.simulated = func() rower.Device { return rower.NewSimulated(time.Second) }
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Log: opts.Log}
	}
	m.fg = foreground{n: notifier}
	m.unattendedSince = m.now()

	if s, err := m.store.LastSnapshot(context.Background()); err != nil {
		m.log.Warn("loading last snapshot", "error", err)
	} else {
		m.status.Snapshot = s
	}
	return m
}

// Start begins a session on dev, or on a simulated machine when dev is
// nil. A running session is superseded and winds down on its own.
func (m *Manager) Start(dev rower.Device) {
	if dev == nil {
		dev = m.simulated()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &rowing{
		id:     uuid.New(),
		m:      m,
		device: dev,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if m.heart != nil {
		r.heart = m.heart()
	}

	if prev := m.current.Swap(r); prev != nil {
		prev.cancel()
		m.log.Info("session superseded", "session", prev.id)
	}
	m.log.Info("session starting", "session", r.id, "device", dev.Name())

	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		r.run()
	}()
}

// Stop ends the current session, if any. It does not wait.
func (m *Manager) Stop() {
	if prev := m.current.Swap(nil); prev != nil {
		m.stopping.Store(prev)
		prev.cancel()
		m.log.Info("session stop requested", "session", prev.id)
	}
}

// Close stops the session, waits for every loop to wind down and drains
// the dispatcher.
func (m *Manager) Close() {
	m.Stop()
	m.loops.Wait()
	m.dispatcher.Close()
}

// State reports the phase of the current session. A stopped session is
// closing until its device is released.
func (m *Manager) State() State {
	if r := m.current.Load(); r != nil {
		return State(r.state.Load())
	}
	if r := m.stopping.Load(); r != nil && State(r.state.Load()) != StateStopped {
		return StateClosing
	}
	return StateStopped
}

// Program returns the selected program, nil when none is.
func (m *Manager) Program() *workout.Program {
	return m.selection.Load()
}

// Select makes p the program of the current and future sessions. Each
// call starts the program over, even when p was selected before.
func (m *Manager) Select(p *workout.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	selected := *p
	selected.Segments = append([]workout.Segment(nil), p.Segments...)

	prev := m.selection.Swap(&selected)
	if err := m.store.SetSelectedProgram(context.Background(), selected.ID); err != nil {
		m.log.Warn("persisting selection", "error", err)
	}
	m.log.Info("program selected", "program", selected.Name, "id", selected.ID)

	m.dispatcher.Post(func() {
		if prev != nil && m.recorder != nil {
			m.recorder.Finish()
		}
		m.mu.Lock()
		if m.selection.Load() == &selected {
			m.status.Program = &selected
			m.status.Progress = nil
			m.status.Event = nil
			m.status.Deviations = nil
		}
		m.mu.Unlock()
		m.changed()
	})
	return nil
}

// Deselect clears the selected program.
func (m *Manager) Deselect() {
	if p := m.selection.Load(); p != nil {
		m.dispatcher.Post(func() { m.deselect(p) })
	}
}

// deselect clears p if it is still selected. Runs on the dispatcher.
func (m *Manager) deselect(p *workout.Program) {
	if p == nil || !m.selection.CompareAndSwap(p, nil) {
		return
	}
	if err := m.store.SetSelectedProgram(context.Background(), uuid.Nil); err != nil {
		m.log.Warn("persisting selection", "error", err)
	}
	m.log.Info("program deselected", "program", p.Name)
	if m.recorder != nil {
		m.recorder.Finish()
	}

	m.mu.Lock()
	m.status.Program = nil
	m.status.Progress = nil
	m.status.Event = nil
	m.status.Deviations = nil
	device := m.status.Device
	running := m.status.Session != uuid.Nil
	m.mu.Unlock()

	if running {
		m.fg.show(connectedText(device), 0, false)
	}
	m.changed()
}

// Status returns a copy of what is currently shown.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := m.status
	m.mu.RUnlock()
	st.State = m.State()
	return st
}

// Subscribe attaches a listener called on the dispatcher goroutine after
// every change. Listeners must not block.
func (m *Manager) Subscribe(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			if len(m.listeners) == 0 {
				m.unattendedSince = m.now()
			}
			m.mu.Unlock()
		})
	}
}

// HasListener reports whether anyone is watching.
func (m *Manager) HasListener() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners) > 0
}

// headsUp reports whether a notification should ask for attention.
func (m *Manager) headsUp() bool {
	enabled, err := m.store.HeadsUp(context.Background())
	if err != nil {
		m.log.Warn("reading heads-up setting", "error", err)
		return false
	}
	if !enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners) == 0 && m.now().Sub(m.unattendedSince) > headsUpDelay
}

func (m *Manager) changed() {
	m.mu.RLock()
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func connectedText(device string) string {
	return "Connected to " + device
}
