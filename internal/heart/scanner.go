package heart

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Listener receives scan results. Calls for one scan are serialized and
// none happen after its stop function returned. A listener must not call
// the stop function of its own scan.
type Listener interface {
	Found(a Advertisement)
	Lost(address string, lastSeen time.Time)
}

// Scanner shares one radio scan between any number of subscriptions.
type Scanner struct {
	adapter   Adapter
	log       *slog.Logger
	lostAfter time.Duration

	mu   sync.Mutex
	subs map[*subscription]struct{}

	// guards starting and stopping the radio scan
	radioMu  sync.Mutex
	scanning bool
	scanDone chan struct{}
}

// NewScanner creates a scanner on adapter, which may be nil when the host
// has no radio. Sensors unseen for lostAfter are reported lost.
func NewScanner(adapter Adapter, lostAfter time.Duration, log *slog.Logger) *Scanner {
	return &Scanner{
		adapter:   adapter,
		log:       log,
		lostAfter: lostAfter,
		subs:      make(map[*subscription]struct{}),
	}
}

func (s *Scanner) ready() error {
	if s.adapter == nil {
		return ErrNoAdapter
	}
	err := s.adapter.Enable()
	if err == nil || errors.Is(err, ErrNoAdapter) || errors.Is(err, ErrRadioDisabled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRadioDisabled, err)
}

// Scan reports every heart-rate advertisement to l until stop is called.
// stop is idempotent and returns once no further callbacks can happen.
func (s *Scanner) Scan(l Listener) (stop func(), err error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sub := s.newSubscription(l, "", true)
	s.add(sub)
	return sub.stop, nil
}

// Find looks for the sensor with the given address or name. The first
// match resolves the future and ends the scan; a failing radio scan
// resolves it with the scan error.
func (s *Scanner) Find(id string) *Future {
	f := newFuture()
	if err := s.ready(); err != nil {
		f.complete(nil, err)
		return f
	}

	sub := s.newSubscription(nil, id, false)
	sub.listener = &findListener{s: s, f: f}
	f.stop = sub.stop
	s.add(sub)
	return f
}

func (s *Scanner) newSubscription(l Listener, filter string, every bool) *subscription {
	return &subscription{
		s:        s,
		listener: l,
		filter:   filter,
		every:    every,
		seen:     make(map[string]time.Time),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scanner) add(sub *subscription) {
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.evict()
	s.startRadio()
}

func (s *Scanner) remove(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	empty := len(s.subs) == 0
	s.mu.Unlock()

	if empty {
		s.stopRadio()
	}
}

func (s *Scanner) startRadio() {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()
	if s.scanning {
		return
	}
	s.scanning = true
	done := make(chan struct{})
	s.scanDone = done
	go func() {
		err := s.adapter.Scan(s.dispatch)
		close(done)
		if err == nil {
			return
		}
		s.log.Warn("bluetooth scan failed", "error", err)

		s.radioMu.Lock()
		if s.scanDone == done {
			s.scanning = false
		}
		s.radioMu.Unlock()
		s.fail(fmt.Errorf("bluetooth scan: %w", err))
	}()
}

// fail hands a scan error to the subscriptions that can end on one.
func (s *Scanner) fail(err error) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

func (s *Scanner) stopRadio() {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()

	s.mu.Lock()
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if !s.scanning || !empty {
		return
	}
	if err := s.adapter.StopScan(); err != nil {
		s.log.Warn("stopping bluetooth scan", "error", err)
	}
	<-s.scanDone
	s.scanning = false
}

func (s *Scanner) dispatch(a Advertisement) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(a)
	}
}

// subscription is one consumer of the shared scan.
type subscription struct {
	s        *Scanner
	listener Listener
	filter   string
	// every reports each advertisement instead of first sightings only
	every bool

	mu      sync.Mutex
	stopped bool
	seen    map[string]time.Time

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// matches filters on the address or name when one is set. Unfiltered
// scans only see sensors advertising heart rate.
func (sub *subscription) matches(a Advertisement) bool {
	if sub.filter == "" {
		return a.HeartRate || a.ConnectionLess()
	}
	return strings.EqualFold(a.Address, sub.filter) || (a.Name != "" && a.Name == sub.filter)
}

func (sub *subscription) deliver(a Advertisement) {
	if !sub.matches(a) {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}
	_, known := sub.seen[a.Address]
	sub.seen[a.Address] = time.Now()
	if !known || sub.every {
		sub.listener.Found(a)
	}
}

func (sub *subscription) fail(err error) {
	f, ok := sub.listener.(interface{ failed(error) })
	if !ok {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.stopped {
		f.failed(err)
	}
}

// evict reports sensors that went silent.
func (sub *subscription) evict() {
	defer close(sub.done)
	if sub.s.lostAfter <= 0 {
		<-sub.quit
		return
	}
	ticker := time.NewTicker(sub.s.lostAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-sub.quit:
			return
		case now := <-ticker.C:
			sub.mu.Lock()
			if sub.stopped {
				sub.mu.Unlock()
				return
			}
			for addr, last := range sub.seen {
				if now.Sub(last) > sub.s.lostAfter {
					delete(sub.seen, addr)
					sub.listener.Lost(addr, last)
				}
			}
			sub.mu.Unlock()
		}
	}
}

func (sub *subscription) stop() {
	sub.stopOnce.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.mu.Unlock()
		close(sub.quit)
		<-sub.done
		sub.s.remove(sub)
	})
}

// findListener resolves a Future with the first match.
type findListener struct {
	s *Scanner
	f *Future
}

func (l *findListener) Found(a Advertisement) {
	if l.f.complete(l.s.bind(a), nil) {
		// the stop function waits for this callback to return
		go l.f.stopScan()
	}
}

func (l *findListener) Lost(string, time.Time) {}

func (l *findListener) failed(err error) {
	if l.f.complete(nil, err) {
		go l.f.stopScan()
	}
}
