package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Peers are CLI processes, not browsers, so there is no origin to check.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter wires the signaling endpoints. ice may be nil, in which case
// /ice-servers is not served.
func NewRouter(hub *Hub, ice *ICEList) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthCheckHandler)
	r.Get("/ws", ServeWs(hub))
	if ice != nil {
		r.Method(http.MethodGet, "/ice-servers", ice)
	}
	return r
}

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
// It takes the hub as a dependency.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection", "error", err)
			return
		}

		conn := newConn(hub, ws)
		if !hub.Register(conn) {
			ws.Close()
			return
		}

		// These methods will handle the connection's lifecycle
		go conn.WritePump()
		go conn.ReadPump()
	}
}
