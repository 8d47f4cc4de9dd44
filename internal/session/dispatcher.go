package session

import "sync"

// Dispatcher runs posted tasks one at a time, in posting order, on a
// single consumer goroutine. Posting never blocks the producer.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	signal  chan struct{}
	stopped chan struct{}
}

// NewDispatcher starts the consumer goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Post queues a task. It returns false once the dispatcher is closed.
func (d *Dispatcher) Post(task func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

// Sync runs task on the consumer goroutine and waits for it. It must not
// be called from a task.
func (d *Dispatcher) Sync(task func()) bool {
	done := make(chan struct{})
	if !d.Post(func() {
		defer close(done)
		task()
	}) {
		return false
	}
	<-done
	return true
}

// Close stops accepting tasks, runs what is queued and waits for the
// consumer to exit. It must not be called from a task.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		<-d.signal
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			task()
		}
	}
}
