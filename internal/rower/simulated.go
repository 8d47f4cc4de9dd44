package rower

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/milnet2/coxswain/internal/workout"
)

// Simulated is a rowing machine that rows a steady pace. Each poll
// advances one second of rowing, paced by the tick interval.
type Simulated struct {
	tick time.Duration

	mu       sync.Mutex
	m        workout.Measurement
	cm       int // distance in centimeters
	opened   bool
	closed   bool
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSimulated creates a simulated machine polling every tick.
func NewSimulated(tick time.Duration) *Simulated {
	return &Simulated{
		tick:     tick,
		stopChan: make(chan struct{}),
	}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("simulated device closed")
	}
	s.opened = true
	return nil
}

func (s *Simulated) Poll(ctx context.Context) (workout.Measurement, error) {
	timer := time.NewTimer(s.tick)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return workout.Measurement{}, ctx.Err()
	case <-s.stopChan:
		return workout.Measurement{}, ErrEnded
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return workout.Measurement{}, errors.New("simulated device not open")
	}

	s.m.Duration++
	// pace drifts around 2:05/500m, pulse climbs towards 160
	s.m.Speed = 380 + (s.m.Duration%20)*2
	s.cm += s.m.Speed
	s.m.Distance = s.cm / 100
	s.m.StrokeRate = 24
	s.m.Strokes = s.m.Duration * s.m.StrokeRate / 60
	s.m.Pulse = min(90+s.m.Duration/4, 160)

	return s.m, nil
}

func (s *Simulated) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = workout.Measurement{}
	s.cm = 0
	return nil
}

// End makes the next poll report ErrEnded, like an unplugged machine.
func (s *Simulated) End() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.End()
	return nil
}
