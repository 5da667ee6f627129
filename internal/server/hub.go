// Package server exposes a signaling store to remote peers over websocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/warpcall/internal/store"
)

const reapTimeout = 5 * time.Second

// Backend is the store the server serves. sqlite.DB implements it.
type Backend interface {
	store.Store
	DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error)
}

type claim struct {
	conn   *Conn
	callID string
}

// Hub tracks live connections and the calls each one took part in, so a
// dropped peer's calls can be deleted and the other side notified.
type Hub struct {
	store Backend
	log   *slog.Logger
	reap  bool

	// conns maps each connection to the ids of calls it created or answered.
	conns map[*Conn]map[string]struct{}

	register   chan *Conn
	unregister chan *Conn
	claims     chan claim
	stopped    chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(st Backend, reapOnDisconnect bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      st,
		log:        logger,
		reap:       reapOnDisconnect,
		conns:      make(map[*Conn]map[string]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		claims:     make(chan claim),
		stopped:    make(chan struct{}),
	}
}

// Run is the single goroutine that owns the connection table. It returns
// when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case c := <-h.register:
			h.conns[c] = make(map[string]struct{})
			h.log.Debug("client registered", "conn", c.id, "remote", c.remote)

		case c := <-h.unregister:
			owned, ok := h.conns[c]
			if !ok {
				continue
			}
			delete(h.conns, c)
			h.log.Debug("client unregistered", "conn", c.id, "calls", len(owned))
			if h.reap {
				h.reapCalls(c, owned)
			}

		case cl := <-h.claims:
			if owned, ok := h.conns[cl.conn]; ok {
				owned[cl.callID] = struct{}{}
			}

		case <-ctx.Done():
			return
		}
	}
}

// reapCalls deletes calls a dropped connection left behind. Calls that
// were already deleted are skipped.
func (h *Hub) reapCalls(c *Conn, owned map[string]struct{}) {
	for id := range owned {
		ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		err := h.store.DeleteCall(ctx, id)
		cancel()
		switch {
		case err == nil:
			h.log.Info("reaped call of disconnected client", "call_id", id, "conn", c.id)
		case errors.Is(err, store.ErrNotFound):
		default:
			h.log.Warn("reap call failed", "call_id", id, "error", err)
		}
	}
}

func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Claim records that c took part in call id.
func (h *Hub) Claim(c *Conn, id string) {
	select {
	case h.claims <- claim{conn: c, callID: id}:
	case <-h.stopped:
	}
}
