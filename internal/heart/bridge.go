package heart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milnet2/coxswain/internal/workout"
)

// staleAfter is how long a reading stays valid without a new one.
const staleAfter = 5 * time.Second

// Bridge binds the configured sensor for the duration of one session and
// overlays its readings onto the session's measurements.
type Bridge struct {
	future *Future
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	bpm atomic.Int32
	at  atomic.Int64 // unix nanos of the last reading

	mu        sync.Mutex
	device    *Device
	destroyed bool
	done      chan struct{}
}

// NewBridge starts looking for the sensor with the given id.
func NewBridge(s *Scanner, id string, log *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		future: s.Find(id),
		log:    log.With("sensor", id),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.bind()
	return b
}

func (b *Bridge) bind() {
	defer close(b.done)
	dev, err := b.future.Wait(b.ctx)
	if err != nil {
		if !errors.Is(err, ErrCancelled) && !errors.Is(err, context.Canceled) {
			b.log.Warn("heart-rate sensor unavailable", "error", err)
		}
		return
	}
	b.log.Info("heart-rate sensor found", "name", dev.Name, "connection_less", dev.ConnectionLess)

	if err := dev.Subscribe(b.ctx, b.record); err != nil {
		if b.ctx.Err() == nil {
			b.log.Warn("heart-rate sensor subscription failed", "error", err)
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		dev.Close()
		return
	}
	b.device = dev
}

func (b *Bridge) record(bpm int) {
	b.bpm.Store(int32(bpm))
	b.at.Store(time.Now().UnixNano())
}

// Pulse sets the measurement's pulse from a recent sensor reading.
func (b *Bridge) Pulse(m *workout.Measurement) {
	bpm := b.bpm.Load()
	if bpm <= 0 || time.Since(time.Unix(0, b.at.Load())) > staleAfter {
		return
	}
	m.Pulse = int(bpm)
}

// Destroy cancels a pending discovery and releases the sensor.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	dev := b.device
	b.mu.Unlock()

	b.cancel()
	b.future.Cancel()
	if dev != nil {
		if err := dev.Close(); err != nil {
			b.log.Warn("closing heart-rate sensor", "error", err)
		}
	}
	<-b.done
}
