package session

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/pion/webrtc/v4"
)

// watcher turns call deletion and connection loss into a single teardown.
// Its handlers run on the dispatcher goroutine.
type watcher struct {
	log       *slog.Logger
	teardown  func(cause error)
	connected func()
}

// watchCall subscribes to deletion of the call row and posts each event
// through post.
func (w *watcher) watchCall(ctx context.Context, st store.Store, callID string, post func(func())) (store.Subscription, error) {
	sub, err := st.Subscribe(ctx, store.Filter{
		Table:  store.TableCalls,
		Event:  store.EventDelete,
		CallID: callID,
	})
	if err != nil {
		return nil, err
	}
	go forward(sub, post, w.callEvent)
	return sub, nil
}

func (w *watcher) callEvent(ev store.Event) {
	if ev.Type != store.EventDelete {
		return
	}
	w.log.Info("call deleted by remote peer")
	w.teardown(ErrRemoteHangup)
}

// connectionState reacts to engine transitions. Only disconnected ends the
// call; failed is logged and closed is the echo of our own Close.
func (w *watcher) connectionState(s webrtc.PeerConnectionState) {
	w.log.Debug("connection state changed", "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateConnected:
		w.connected()
	case webrtc.PeerConnectionStateDisconnected:
		w.teardown(ErrDisconnected)
	case webrtc.PeerConnectionStateFailed:
		w.log.Warn("peer connection failed")
	}
}

// forward posts every event of sub to handle until the subscription ends.
func forward(sub store.Subscription, post func(func()), handle func(store.Event)) {
	for ev := range sub.Events() {
		post(func() { handle(ev) })
	}
}
