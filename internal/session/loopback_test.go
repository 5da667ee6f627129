package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/iceservers"
	"github.com/BioHazard786/warpcall/internal/server"
	"github.com/BioHazard786/warpcall/internal/session"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/BioHazard786/warpcall/internal/store/sqlite"
	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"
)

// TestLoopbackCall runs a full call between two pion peers on this host,
// signaled through the websocket server and its sqlite store.
func TestLoopbackCall(t *testing.T) {
	if testing.Short() {
		t.Skip("starts real peer connections")
	}
	lim := test.TimeOut(45 * time.Second)
	defer lim.Stop()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := server.NewHub(db, true, quiet)
	go hub.Run(ctx)
	srv := httptest.NewServer(server.NewRouter(hub, nil))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// Gathering against an unreachable STUN server fails quietly; host
	// candidates are enough on one machine.
	ice := iceservers.Static([]webrtc.ICEServer{{URLs: []string{"stun:127.0.0.1:3478"}}})
	engines := session.PionEngines(engine.Options{IncludeLoopback: true, Logger: quiet})

	peer := func() *session.Coordinator {
		client := signaling.NewClient(wsURL, quiet)
		if err := client.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(client.Close)
		return session.New(client, engines, session.WithLogger(quiet), session.WithICEServers(ice))
	}
	caller, callee := peer(), peer()

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}

	waitConnected := func(name string, c *session.Coordinator) {
		t.Helper()
		for ev := range c.Events() {
			if ev.To == session.Connected {
				return
			}
			if ev.To == session.Closed {
				t.Fatalf("%s closed before connecting: %v", name, ev.Err)
			}
		}
		t.Fatalf("%s events ended", name)
	}
	waitConnected("caller", caller)
	waitConnected("callee", callee)

	offers, err := db.ListCandidates(ctx, store.OfferSide, id)
	if err != nil || len(offers) == 0 {
		t.Fatalf("caller published no candidates: %v", err)
	}

	callee.Teardown()
	<-callee.Done()
	<-caller.Done()

	if !errors.Is(caller.Err(), session.ErrRemoteHangup) {
		t.Fatalf("caller closed with %v, want remote hangup", caller.Err())
	}
	if _, err := db.GetCall(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("call row survived teardown: %v", err)
	}
}
