package heart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BLEAdapter is the host's Bluetooth radio.
type BLEAdapter struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu      sync.Mutex
	enabled bool
	// addresses seen while scanning, needed to connect
	addrs map[string]bluetooth.Address
}

// NewBLEAdapter wraps the default adapter of the host.
func NewBLEAdapter(log *slog.Logger) *BLEAdapter {
	return &BLEAdapter{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		addrs:   make(map[string]bluetooth.Address),
	}
}

// Enable powers the radio up on first use.
func (b *BLEAdapter) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		return nil
	}
	if err := b.adapter.Enable(); err != nil {
		b.log.Warn("bluetooth unavailable", "error", err)
		return enableError(err)
	}
	b.enabled = true
	return nil
}

// enableError tells a host without a radio apart from a radio that is
// switched off or not permitted.
func enableError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, missing := range []string{"does not exist", "no adapter", "not found", "no such", "unknownobject", "serviceunknown"} {
		if strings.Contains(msg, missing) {
			return fmt.Errorf("%w: %v", ErrNoAdapter, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrRadioDisabled, err)
}

func (b *BLEAdapter) Scan(cb func(Advertisement)) error {
	return b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		a := Advertisement{
			Address:   result.Address.String(),
			Name:      result.LocalName(),
			RSSI:      result.RSSI,
			HeartRate: result.HasServiceUUID(bluetooth.ServiceUUIDHeartRate),
		}
		for _, sd := range result.ServiceData() {
			if sd.UUID == bluetooth.ServiceUUIDHeartRate {
				a.ServiceData = sd.Data
			}
		}
		b.mu.Lock()
		b.addrs[a.Address] = result.Address
		b.mu.Unlock()
		cb(a)
	})
}

func (b *BLEAdapter) StopScan() error {
	return b.adapter.StopScan()
}

func (b *BLEAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	b.mu.Lock()
	addr, ok := b.addrs[address]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown address %s", address)
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return &bleConnection{dev: r.dev}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type bleConnection struct {
	dev bluetooth.Device
}

func (c *bleConnection) Notify(fn func(bpm int)) error {
	services, err := c.dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
	if err != nil {
		return fmt.Errorf("discovering services: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no heart-rate service")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil {
		return fmt.Errorf("discovering characteristics: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("no heart-rate measurement characteristic")
	}
	return chars[0].EnableNotifications(func(buf []byte) {
		if bpm := ParseMeasurement(buf); bpm > 0 {
			fn(bpm)
		}
	})
}

func (c *bleConnection) Disconnect() error {
	return c.dev.Disconnect()
}
