package heart

import (
	"context"
	"sync"
)

// Future is the pending result of Find.
type Future struct {
	done chan struct{}
	once sync.Once
	dev  *Device
	err  error

	// stops the scan behind the future, nil when none was started
	stop func()
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(dev *Device, err error) bool {
	completed := false
	f.once.Do(func() {
		f.dev, f.err = dev, err
		close(f.done)
		completed = true
	})
	return completed
}

func (f *Future) stopScan() {
	if f.stop != nil {
		f.stop()
	}
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the sensor is found, discovery fails or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Device, error) {
	select {
	case <-f.done:
		return f.dev, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel resolves the future with ErrCancelled unless it already
// resolved, and stops the scan before returning. It reports whether the
// future was cancelled by this call.
func (f *Future) Cancel() bool {
	cancelled := f.complete(nil, ErrCancelled)
	f.stopScan()
	return cancelled
}
