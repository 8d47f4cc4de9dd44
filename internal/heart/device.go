package heart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Device is a discovered heart-rate sensor.
type Device struct {
	Address        string `json:"address"`
	Name           string `json:"name,omitempty"`
	ConnectionLess bool   `json:"connection_less"`

	s *Scanner

	mu     sync.Mutex
	stop   func()
	conn   Connection
	closed bool
}

func (s *Scanner) bind(a Advertisement) *Device {
	return &Device{
		Address:        a.Address,
		Name:           a.Name,
		ConnectionLess: a.ConnectionLess(),
		s:              s,
	}
}

// Subscribe streams heart-rate readings to fn, from the advertisements of
// a connection-less sensor or from notifications of a connected one.
func (d *Device) Subscribe(ctx context.Context, fn func(bpm int)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("device closed")
	}
	d.mu.Unlock()

	if d.ConnectionLess {
		sub := d.s.newSubscription(&broadcastListener{fn: fn}, d.Address, true)
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return errors.New("device closed")
		}
		d.stop = sub.stop
		d.mu.Unlock()
		d.s.add(sub)
		return nil
	}

	conn, err := d.s.adapter.Connect(ctx, d.Address)
	if err != nil {
		return fmt.Errorf("connecting %s: %w", d.Address, err)
	}
	if err := conn.Notify(fn); err != nil {
		conn.Disconnect()
		return fmt.Errorf("subscribing %s: %w", d.Address, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		conn.Disconnect()
		return errors.New("device closed")
	}
	d.conn = conn
	return nil
}

// Close ends the subscription. It is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stop, conn := d.stop, d.conn
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// broadcastListener decodes readings from service data.
type broadcastListener struct {
	fn func(bpm int)
}

func (l *broadcastListener) Found(a Advertisement) {
	if bpm := ParseMeasurement(a.ServiceData); bpm > 0 {
		l.fn(bpm)
	}
}

func (l *broadcastListener) Lost(string, time.Time) {}
