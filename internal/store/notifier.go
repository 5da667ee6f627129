package store

import (
	"context"
	"sync"
)

// Notifier fans committed changes out to subscriptions. A single goroutine
// (Run) owns the subscription set; publishers never block on slow readers
// because every subscription queues its backlog in a Feed.
type Notifier struct {
	subs map[*subscription]struct{}

	register   chan *subscription
	unregister chan *subscription
	publish    chan Event
	quit       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

type subscription struct {
	*Feed
	filter Filter
}

// NewNotifier creates a Notifier. Run must be started before use.
func NewNotifier() *Notifier {
	return &Notifier{
		subs:       make(map[*subscription]struct{}),
		register:   make(chan *subscription),
		unregister: make(chan *subscription),
		publish:    make(chan Event),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run processes registrations and publications until Stop is called.
func (n *Notifier) Run() {
	defer close(n.stopped)
	for {
		select {
		case s := <-n.register:
			n.subs[s] = struct{}{}

		case s := <-n.unregister:
			delete(n.subs, s)

		case ev := <-n.publish:
			for s := range n.subs {
				if s.filter.Match(ev) {
					s.Push(ev)
				}
			}

		case <-n.quit:
			for s := range n.subs {
				s.shutdown()
				delete(n.subs, s)
			}
			return
		}
	}
}

// Stop terminates Run and closes every open subscription.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.quit) })
	<-n.stopped
}

// Publish delivers ev to every matching subscription registered before the
// call. It is a no-op after Stop.
func (n *Notifier) Publish(ev Event) {
	select {
	case n.publish <- ev:
	case <-n.stopped:
	}
}

// Subscribe registers a subscription. It is closed when ctx ends, when
// Close is called, or when the notifier stops.
func (n *Notifier) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	s := &subscription{filter: f}
	s.Feed = NewFeed(func() {
		select {
		case n.unregister <- s:
		case <-n.stopped:
		}
	})

	select {
	case n.register <- s:
	case <-n.stopped:
		s.shutdown()
		return nil, ErrClosed
	case <-ctx.Done():
		s.shutdown()
		return nil, ctx.Err()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
	}()
	return s, nil
}
