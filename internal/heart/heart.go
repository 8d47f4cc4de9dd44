// Package heart discovers Bluetooth LE heart-rate sensors and streams
// their readings into rowing sessions.
package heart

import (
	"context"
	"encoding/binary"
	"errors"
)

var (
	// ErrNoAdapter is returned when the host has no Bluetooth radio.
	ErrNoAdapter = errors.New("no bluetooth adapter")
	// ErrRadioDisabled is returned when the radio is switched off.
	ErrRadioDisabled = errors.New("bluetooth radio disabled")
	// ErrCancelled completes a Future that was cancelled.
	ErrCancelled = errors.New("discovery cancelled")
)

// Advertisement is one heart-rate advertisement seen while scanning.
type Advertisement struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int16  `json:"rssi"`
	// HeartRate is set when the heart-rate service is advertised.
	HeartRate bool `json:"heart_rate"`
	// ServiceData carries a heart-rate measurement for sensors that
	// broadcast without accepting connections.
	ServiceData []byte `json:"-"`
}

// ConnectionLess reports whether the sensor broadcasts its readings.
func (a Advertisement) ConnectionLess() bool {
	return len(a.ServiceData) > 0
}

// Adapter is a Bluetooth radio. Enable returns ErrNoAdapter or
// ErrRadioDisabled when the radio cannot be used. Scan blocks, calling cb
// for every advertisement, until StopScan is called.
type Adapter interface {
	Enable() error
	Scan(cb func(Advertisement)) error
	StopScan() error
	Connect(ctx context.Context, address string) (Connection, error)
}

// Connection is a connected sensor.
type Connection interface {
	// Notify subscribes to heart-rate measurements.
	Notify(fn func(bpm int)) error
	Disconnect() error
}

// ParseMeasurement decodes a heart-rate measurement: flag bit 0 selects
// a 16 bit value instead of 8 bit.
func ParseMeasurement(buf []byte) int {
	if len(buf) < 2 {
		return 0
	}
	if buf[0]&0x01 == 0 {
		return int(buf[1])
	}
	if len(buf) < 3 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(buf[1:3]))
}
