package heart

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulatedSensor is a sensor advertised by a SimulatedAdapter.
type SimulatedSensor struct {
	Address        string
	Name           string
	ConnectionLess bool
	BPM            int
}

// SimulatedAdapter advertises a fixed set of sensors every interval.
type SimulatedAdapter struct {
	Sensors  []SimulatedSensor
	Interval time.Duration
	Disabled bool
	// Missing makes the adapter behave like a host without a radio.
	Missing bool

	mu       sync.Mutex
	scanning bool
	stopChan chan struct{}
	scans    int
}

func (s *SimulatedAdapter) Enable() error {
	switch {
	case s.Missing:
		return ErrNoAdapter
	case s.Disabled:
		return ErrRadioDisabled
	}
	return nil
}

func (s *SimulatedAdapter) Scan(cb func(Advertisement)) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return fmt.Errorf("already scanning")
	}
	s.scanning = true
	s.scans++
	stop := make(chan struct{})
	s.stopChan = stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.stopChan == stop {
			s.scanning = false
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		for _, sensor := range s.Sensors {
			cb(sensor.advertisement())
		}
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *SimulatedAdapter) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning {
		return fmt.Errorf("not scanning")
	}
	close(s.stopChan)
	s.scanning = false
	return nil
}

// Scanning reports whether a scan is running.
func (s *SimulatedAdapter) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Scans counts the scans started so far.
func (s *SimulatedAdapter) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func (s *SimulatedAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	for _, sensor := range s.Sensors {
		if sensor.Address == address && !sensor.ConnectionLess {
			return &simulatedConnection{bpm: sensor.BPM, interval: s.Interval, stop: make(chan struct{})}, nil
		}
	}
	return nil, fmt.Errorf("unknown address %s", address)
}

func (sensor SimulatedSensor) advertisement() Advertisement {
	a := Advertisement{
		Address:   sensor.Address,
		Name:      sensor.Name,
		RSSI:      -60,
		HeartRate: !sensor.ConnectionLess,
	}
	if sensor.ConnectionLess {
		a.ServiceData = []byte{0x00, byte(sensor.BPM)}
	}
	return a
}

type simulatedConnection struct {
	bpm      int
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func (c *simulatedConnection) Notify(fn func(bpm int)) error {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			fn(c.bpm)
			select {
			case <-c.stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (c *simulatedConnection) Disconnect() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}
