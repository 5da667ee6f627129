package session

import "sync"

// dispatcher runs posted functions one at a time, in post order, on a
// single goroutine. Posting never blocks, so engine callbacks and store
// subscriptions can hand work over without stalling.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) post(f func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, f)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop discards queued work. The function currently running, if any,
// finishes; stop does not wait for it so it may be called from inside a
// posted function.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.queue = nil
	close(d.quit)
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-d.quit:
				return
			}
		}
		f := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		f()
	}
}
