package store

import "sync"

// Feed is an ordered event stream with an unbounded backlog. Push never
// blocks; a pump goroutine hands events to Events in push order.
type Feed struct {
	out chan Event

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	hookOnce  sync.Once
	onClose   func()
}

// NewFeed starts a feed. onClose, if set, runs once on the first Close.
func NewFeed(onClose func()) *Feed {
	f := &Feed{
		out:     make(chan Event, 16),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go f.pump()
	return f
}

// Events is closed once the feed is closed.
func (f *Feed) Events() <-chan Event {
	return f.out
}

// Done is closed when the feed shuts down.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) Close() error {
	f.shutdown()
	f.hookOnce.Do(func() {
		if f.onClose != nil {
			f.onClose()
		}
	})
	return nil
}

// shutdown stops delivery without running the close hook.
func (f *Feed) shutdown() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Push queues ev. Events pushed after Close are dropped.
func (f *Feed) Push(ev Event) {
	select {
	case <-f.done:
		return
	default:
	}

	f.mu.Lock()
	f.queue = append(f.queue, ev)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.wake:
				continue
			case <-f.done:
				return
			}
		}
		ev := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- ev:
		case <-f.done:
			return
		}
	}
}
