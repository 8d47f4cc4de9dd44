package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/workout"
)

type pollResult struct {
	m   workout.Measurement
	err error
}

// scriptedDevice returns whatever the test feeds it.
type scriptedDevice struct {
	name      string
	openErr   error
	ignoreCtx bool
	polls     chan pollResult
	polling   chan struct{}

	opens, resets, closes atomic.Int32
}

func newDevice(name string) *scriptedDevice {
	return &scriptedDevice{
		name:    name,
		polls:   make(chan pollResult),
		polling: make(chan struct{}, 16),
	}
}

func (d *scriptedDevice) Name() string { return d.name }

func (d *scriptedDevice) Open(ctx context.Context) error {
	d.opens.Add(1)
	return d.openErr
}

func (d *scriptedDevice) Poll(ctx context.Context) (workout.Measurement, error) {
	select {
	case d.polling <- struct{}{}:
	default:
	}
	if d.ignoreCtx {
		r := <-d.polls
		return r.m, r.err
	}
	select {
	case <-ctx.Done():
		return workout.Measurement{}, ctx.Err()
	case r := <-d.polls:
		return r.m, r.err
	}
}

func (d *scriptedDevice) Reset() error {
	d.resets.Add(1)
	return nil
}

func (d *scriptedDevice) Close() error {
	d.closes.Add(1)
	return nil
}

func (d *scriptedDevice) feed(t *testing.T, m workout.Measurement) {
	t.Helper()
	select {
	case d.polls <- pollResult{m: m}:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: device not polled", d.name)
	}
}

func (d *scriptedDevice) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case d.polls <- pollResult{err: err}:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: device not polled", d.name)
	}
}

type fakeStore struct {
	mu       sync.Mutex
	openEnd  bool
	headsUp  bool
	selected uuid.UUID
	snapshot workout.Snapshot
	saved    int
}

func (s *fakeStore) OpenEnd(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openEnd, nil
}

func (s *fakeStore) HeadsUp(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headsUp, nil
}

func (s *fakeStore) SetSelectedProgram(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	return nil
}

func (s *fakeStore) LastSnapshot(context.Context) (workout.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

func (s *fakeStore) SaveSnapshot(_ context.Context, snap workout.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.saved++
	return nil
}

type cue struct {
	event  workout.Event
	status Status
}

// recordingNotifier captures everything the manager shows.
type recordingNotifier struct {
	cues  chan cue
	shows atomic.Int32
	hides atomic.Int32
}

func newNotifier() *recordingNotifier {
	return &recordingNotifier{cues: make(chan cue, 64)}
}

func (n *recordingNotifier) Show(string, float64, bool) { n.shows.Add(1) }
func (n *recordingNotifier) Hide()                      { n.hides.Add(1) }
func (n *recordingNotifier) Cue(e workout.Event, st Status) {
	select {
	case n.cues <- cue{event: e, status: st}:
	default:
	}
}

func (n *recordingNotifier) next(t *testing.T) cue {
	t.Helper()
	select {
	case c := <-n.cues:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no event applied")
		return cue{}
	}
}

type fakeHeart struct {
	destroyed atomic.Int32
}

func (h *fakeHeart) Pulse(m *workout.Measurement) {
	if m.Pulse == 0 {
		m.Pulse = 120
	}
}

func (h *fakeHeart) Destroy() { h.destroyed.Add(1) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, store *fakeStore, n *recordingNotifier, opts ...func(*Options)) *Manager {
	t.Helper()
	o := Options{Store: store, Log: testLogger(), Notifier: n, DeselectOnEnd: true}
	for _, f := range opts {
		f(&o)
	}
	m := New(o)
	t.Cleanup(m.Close)
	return m
}

// flush waits until every task posted so far has run.
func flush(m *Manager) {
	m.dispatcher.Sync(func() {})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var twoSegments = &workout.Program{
	ID:       uuid.New(),
	Name:     "2x100m",
	Segments: []workout.Segment{{Distance: 100}, {Distance: 100}},
}

// TestNoProgram verifies a session without a selected program reports
// NO_PROGRAM and shows the connected device.
func TestNoProgram(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)
	dev := newDevice("fake")

	m.Start(dev)
	dev.feed(t, workout.Measurement{Duration: 1, Distance: 4})

	c := n.next(t)
	if c.event != workout.EventNoProgram {
		t.Errorf("event = %s, want NO_PROGRAM", c.event)
	}
	if c.status.Text != "Connected to fake" {
		t.Errorf("text = %q, want %q", c.status.Text, "Connected to fake")
	}
	if c.status.Snapshot.Distance != 4 {
		t.Errorf("snapshot distance = %d, want 4", c.status.Snapshot.Distance)
	}
	if c.status.State != StateRunning {
		t.Errorf("state = %s, want running", c.status.State)
	}
}

// TestProgramFinishedDeselects walks a two segment program to its end and
// checks PROGRAM_FINISHED is applied once and the program deselected.
func TestProgramFinishedDeselects(t *testing.T) {
	store := &fakeStore{}
	n := newNotifier()
	m := newTestManager(t, store, n)
	dev := newDevice("fake")

	if err := m.Select(twoSegments); err != nil {
		t.Fatal(err)
	}
	m.Start(dev)

	want := []workout.Event{
		workout.EventMeasured,
		workout.EventSegmentFinished,
		workout.EventMeasured,
		workout.EventProgramFinished,
	}
	for i, d := range []int{50, 100, 150, 200} {
		dev.feed(t, workout.Measurement{Duration: i + 1, Distance: d})
		if c := n.next(t); c.event != want[i] {
			t.Fatalf("poll %d: event = %s, want %s", i, c.event, want[i])
		}
	}

	flush(m)
	if m.Program() != nil {
		t.Error("program still selected after PROGRAM_FINISHED")
	}
	store.mu.Lock()
	selected := store.selected
	store.mu.Unlock()
	if selected != uuid.Nil {
		t.Errorf("persisted selection = %v, want nil", selected)
	}
	if st := m.Status(); st.Program != nil || st.Progress != nil {
		t.Errorf("status still shows program: %+v", st.Program)
	}
	if dev.resets.Load() < 1 {
		t.Error("device not reset on program change")
	}
}

// TestOpenEnd verifies the session keeps rowing after the program ends
// when open end is enabled.
func TestOpenEnd(t *testing.T) {
	store := &fakeStore{openEnd: true}
	n := newNotifier()
	m := newTestManager(t, store, n)
	dev := newDevice("fake")

	m.Select(&workout.Program{Name: "short", Segments: []workout.Segment{{Strokes: 10}}})
	m.Start(dev)

	dev.feed(t, workout.Measurement{Strokes: 10})
	if c := n.next(t); c.event != workout.EventProgramFinished {
		t.Fatalf("event = %s, want PROGRAM_FINISHED", c.event)
	}

	for s := 11; s < 14; s++ {
		dev.feed(t, workout.Measurement{Strokes: s})
		c := n.next(t)
		if c.event != workout.EventMeasured {
			t.Fatalf("event = %s, want MEASURED", c.event)
		}
		if c.status.Progress == nil || !c.status.Progress.Finished {
			t.Errorf("progress = %+v, want finished", c.status.Progress)
		}
		if c.status.Completion != 1 {
			t.Errorf("completion = %v, want 1", c.status.Completion)
		}
	}
	if m.Program() == nil {
		t.Error("program deselected despite open end")
	}
}

// TestSupersession starts a second session while the first is stuck in a
// poll and checks the first never publishes anything afterwards.
func TestSupersession(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)

	a := newDevice("a")
	a.ignoreCtx = true
	m.Start(a)
	<-a.polling
	sessionA := m.current.Load().id

	b := newDevice("b")
	m.Start(b)
	b.feed(t, workout.Measurement{Distance: 1})
	if c := n.next(t); c.status.Device != "b" {
		t.Fatalf("device = %q, want b", c.status.Device)
	}

	// a's poll completes after it was superseded
	a.feed(t, workout.Measurement{Distance: 999})
	waitFor(t, "a to close", func() bool { return a.closes.Load() == 1 })
	flush(m)

	select {
	case c := <-n.cues:
		t.Fatalf("unexpected event %s from device %q", c.event, c.status.Device)
	default:
	}

	st := m.Status()
	if st.Session == sessionA || st.Device != "b" {
		t.Errorf("status = session %v device %q, want b's session", st.Session, st.Device)
	}
	if st.Snapshot.Distance == 999 {
		t.Error("superseded session's measurement was published")
	}
	if st.State != StateRunning {
		t.Errorf("state = %s, want running", st.State)
	}
	if b.closes.Load() != 0 {
		t.Error("current device closed by superseded teardown")
	}
}

// TestTeardownOnce verifies a device that ends is closed exactly once and
// the heart bridge destroyed with it.
func TestTeardownOnce(t *testing.T) {
	store := &fakeStore{}
	n := newNotifier()
	h := &fakeHeart{}
	m := newTestManager(t, store, n, func(o *Options) {
		o.Heart = func() Heart { return h }
	})
	dev := newDevice("fake")

	m.Start(dev)
	dev.feed(t, workout.Measurement{Duration: 1})
	if c := n.next(t); c.status.Snapshot.Pulse != 120 {
		t.Errorf("pulse = %d, want 120 from heart bridge", c.status.Snapshot.Pulse)
	}

	dev.fail(t, rower.ErrEnded)
	waitFor(t, "stopped", func() bool { return m.State() == StateStopped })
	flush(m)

	m.Stop()
	m.Close()

	if got := dev.closes.Load(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if got := h.destroyed.Load(); got != 1 {
		t.Errorf("heart destroyed %d times, want 1", got)
	}
	if n.hides.Load() != 1 {
		t.Errorf("notification hidden %d times, want 1", n.hides.Load())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saved != 1 || store.snapshot.Duration != 1 {
		t.Errorf("saved snapshot = %+v (%d saves), want duration 1", store.snapshot, store.saved)
	}
}

// TestOpenFailure verifies a device that cannot be opened is never polled
// and still closed.
func TestOpenFailure(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)
	dev := newDevice("broken")
	dev.openErr = errors.New("no such device")

	m.Start(dev)
	waitFor(t, "close", func() bool { return dev.closes.Load() == 1 })
	flush(m)

	if m.State() != StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
	select {
	case <-dev.polling:
		t.Error("device polled after failed open")
	default:
	}
}

// TestTransportFailureDeselects verifies a transport error ends the
// session and deselects the program.
func TestTransportFailureDeselects(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)
	dev := newDevice("fake")

	m.Select(twoSegments)
	m.Start(dev)
	dev.fail(t, errors.New("usb unplugged"))

	waitFor(t, "close", func() bool { return dev.closes.Load() == 1 })
	flush(m)
	if m.Program() != nil {
		t.Error("program still selected after transport failure")
	}
	if m.State() != StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
}

// TestStopDuringPoll verifies Stop ends a session blocked in a poll.
func TestStopDuringPoll(t *testing.T) {
	m := newTestManager(t, &fakeStore{}, newNotifier())
	dev := newDevice("fake")

	m.Start(dev)
	<-dev.polling
	m.Stop()

	waitFor(t, "close", func() bool { return dev.closes.Load() == 1 })
	waitFor(t, "stopped", func() bool { return m.State() == StateStopped })
}

// TestStopReportsClosing verifies a stopped session reports closing
// until its device has been released.
func TestStopReportsClosing(t *testing.T) {
	m := newTestManager(t, &fakeStore{}, newNotifier())
	dev := newDevice("fake")
	dev.ignoreCtx = true

	m.Start(dev)
	<-dev.polling
	m.Stop()

	if st := m.State(); st != StateClosing {
		t.Errorf("state while the poll is pending = %s, want closing", st)
	}
	if dev.closes.Load() != 0 {
		t.Fatal("device closed before the poll returned")
	}

	dev.feed(t, workout.Measurement{Duration: 1})
	waitFor(t, "close", func() bool { return dev.closes.Load() == 1 })
	waitFor(t, "stopped", func() bool { return m.State() == StateStopped })
	flush(m)
	if st := m.State(); st != StateStopped {
		t.Errorf("state after teardown = %s, want stopped", st)
	}
}

// TestApplyDropsStale verifies deliveries of a replaced session or a
// replaced program are not published.
func TestApplyDropsStale(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)

	old := &rowing{id: uuid.New(), m: m, device: newDevice("old")}
	cur := &rowing{id: uuid.New(), m: m, device: newDevice("cur")}
	m.current.Store(cur)
	t.Cleanup(func() { m.current.Store(nil) })

	m.Select(twoSegments)
	flush(m)
	replaced := &workout.Program{Name: "replaced"}

	m.dispatcher.Sync(func() {
		m.apply(delivery{loop: old, program: m.Program(), event: workout.EventMeasured})
		m.apply(delivery{loop: cur, program: replaced, event: workout.EventProgramFinished})
	})

	select {
	case c := <-n.cues:
		t.Fatalf("stale delivery applied: %s", c.event)
	default:
	}
	if m.Program() == nil {
		t.Error("stale PROGRAM_FINISHED deselected the program")
	}

	m.dispatcher.Sync(func() {
		m.apply(delivery{loop: cur, program: m.Program(), event: workout.EventMeasured})
	})
	if c := n.next(t); c.status.Device != "cur" {
		t.Errorf("device = %q, want cur", c.status.Device)
	}
}

// TestReselectRestarts verifies selecting the same program again starts
// it over.
func TestReselectRestarts(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n)
	dev := newDevice("fake")

	m.Select(twoSegments)
	m.Start(dev)
	dev.feed(t, workout.Measurement{Distance: 100})
	if c := n.next(t); c.event != workout.EventSegmentFinished {
		t.Fatalf("event = %s, want SEGMENT_FINISHED", c.event)
	}

	m.Select(twoSegments)
	// the loop may still be polling for the old selection, whose result
	// is dropped; the reset machine then counts from zero
	dev.feed(t, workout.Measurement{Distance: 0})
	dev.feed(t, workout.Measurement{Distance: 30})
	var c cue
	for c = n.next(t); c.status.Snapshot.Distance != 30; c = n.next(t) {
	}
	if c.status.Progress == nil || c.status.Progress.Segment != 0 {
		t.Fatalf("progress = %+v, want first segment", c.status.Progress)
	}
	if c.status.Progress.Achieved != 30 {
		t.Errorf("achieved = %d, want 30 after restart", c.status.Progress.Achieved)
	}
}

// TestSelectRejectsEmpty verifies a program without segments cannot be
// selected.
func TestSelectRejectsEmpty(t *testing.T) {
	m := newTestManager(t, &fakeStore{}, newNotifier())
	if err := m.Select(&workout.Program{Name: "empty"}); !errors.Is(err, workout.ErrEmptyProgram) {
		t.Errorf("error = %v, want ErrEmptyProgram", err)
	}
	if m.Program() != nil {
		t.Error("empty program selected")
	}
}

// TestListeners verifies listeners are told about changes until they
// unsubscribe.
func TestListeners(t *testing.T) {
	m := newTestManager(t, &fakeStore{}, newNotifier())
	var calls atomic.Int32
	unsubscribe := m.Subscribe(func() { calls.Add(1) })
	if !m.HasListener() {
		t.Fatal("HasListener = false after Subscribe")
	}

	m.Select(twoSegments)
	flush(m)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	unsubscribe()
	unsubscribe()
	m.Deselect()
	flush(m)
	if calls.Load() != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", calls.Load())
	}
	if m.HasListener() {
		t.Error("HasListener = true after unsubscribe")
	}
}

// TestHeadsUp verifies notifications ask for attention only when enabled
// and nobody has been watching for more than two seconds.
func TestHeadsUp(t *testing.T) {
	store := &fakeStore{headsUp: true}
	m := newTestManager(t, store, newNotifier())

	t0 := time.Now()
	now := t0
	m.mu.Lock()
	m.now = func() time.Time { return now }
	m.unattendedSince = t0
	m.mu.Unlock()

	now = t0.Add(time.Second)
	if m.headsUp() {
		t.Error("heads-up before delay elapsed")
	}
	now = t0.Add(3 * time.Second)
	if !m.headsUp() {
		t.Error("no heads-up after delay")
	}

	unsubscribe := m.Subscribe(func() {})
	if m.headsUp() {
		t.Error("heads-up while a listener is attached")
	}
	unsubscribe()
	if m.headsUp() {
		t.Error("heads-up right after the last listener left")
	}

	store.mu.Lock()
	store.headsUp = false
	store.mu.Unlock()
	now = now.Add(time.Minute)
	if m.headsUp() {
		t.Error("heads-up while disabled")
	}
}

// TestForegroundDedup verifies a notification is only replaced when its
// text or whole percentage changes.
func TestForegroundDedup(t *testing.T) {
	n := newNotifier()
	f := foreground{n: n}

	f.show("row - 500 m", 0.101, false)
	f.show("row - 500 m", 0.109, false)
	if n.shows.Load() != 1 {
		t.Errorf("shows = %d, want 1", n.shows.Load())
	}
	f.show("row - 500 m", 0.11, false)
	f.show("row - 450 m", 0.11, false)
	if n.shows.Load() != 3 {
		t.Errorf("shows = %d, want 3", n.shows.Load())
	}

	f.hide()
	f.hide()
	if n.hides.Load() != 1 {
		t.Errorf("hides = %d, want 1", n.hides.Load())
	}
	f.show("row - 450 m", 0.11, false)
	if n.shows.Load() != 4 {
		t.Errorf("shows after hide = %d, want 4", n.shows.Load())
	}
}

// TestDispatcherOrder verifies tasks run in posting order and Close runs
// what was queued before refusing new tasks.
func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher()
	var got []int
	for i := range 100 {
		d.Post(func() { got = append(got, i) })
	}
	d.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran as %d", v, i)
		}
	}
	if d.Post(func() {}) {
		t.Error("Post after Close accepted")
	}
	d.Close()
}

// TestSimulatedDefault verifies Start without a device uses the
// simulated machine.
func TestSimulatedDefault(t *testing.T) {
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n, func(o *Options) {
		o.Simulated = func() rower.Device { return rower.NewSimulated(time.Millisecond) }
	})
	m.Start(nil)
	if c := n.next(t); c.status.Device != "simulated" {
		t.Errorf("device = %q, want simulated", c.status.Device)
	}
	m.Stop()
}

type fakeRecorder struct {
	mu       sync.Mutex
	devices  []string
	finishes int
}

func (r *fakeRecorder) Record(_ uuid.UUID, device string, _ *workout.Program, _ workout.Progress, _ workout.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, device)
}

func (r *fakeRecorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes++
}

// TestRecorder verifies every applied reading of the program is recorded
// with the device name and the workout is finished when the program ends.
func TestRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	n := newNotifier()
	m := newTestManager(t, &fakeStore{}, n, func(o *Options) { o.Recorder = rec })
	dev := newDevice("fake")

	m.Select(twoSegments)
	m.Start(dev)
	for i, d := range []int{50, 100, 150, 200} {
		dev.feed(t, workout.Measurement{Duration: i + 1, Distance: d})
		n.next(t)
	}
	flush(m)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.devices) != 4 {
		t.Fatalf("recorded %d readings, want 4", len(rec.devices))
	}
	for _, d := range rec.devices {
		if d != "fake" {
			t.Errorf("device = %q, want fake", d)
		}
	}
	if rec.finishes != 1 {
		t.Errorf("finishes = %d, want 1", rec.finishes)
	}
}
