package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP payloads

	requestTimeout = 10 * time.Second
)

// Conn is a wrapper for a single websocket connection (a peer)
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	id     string
	remote string
	log    *slog.Logger

	// send is a buffered channel for all outbound frames. Only WritePump
	// writes to the socket.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// subs is owned by the ReadPump goroutine.
	subs map[string]store.Subscription
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		hub:    hub,
		ws:     ws,
		id:     id,
		remote: ws.RemoteAddr().String(),
		log:    hub.log.With("conn", id),
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]store.Subscription),
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// ReadPump serves requests from the connection until it fails.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Conn) ReadPump() {
	defer func() {
		c.close()
		for _, sub := range c.subs {
			sub.Close()
		}
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		msg, err := signaling.Decode(data)
		if err != nil {
			c.log.Warn("malformed frame", "error", err)
			continue
		}
		c.handle(msg)
	}
}

// WritePump pumps frames to the websocket connection and pings the peer.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.log.Debug("write failed", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue hands msg to WritePump. It gives up once the connection closes.
func (c *Conn) enqueue(msg *signaling.Message) {
	data, err := signaling.Encode(msg)
	if err != nil {
		c.log.Error("encode frame", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *Conn) reply(id string, payload any) {
	msg, err := signaling.NewMessage(signaling.MessageTypeResult, id, payload)
	if err != nil {
		c.enqueue(signaling.ErrorResponse(id, err))
		return
	}
	c.enqueue(msg)
}

func (c *Conn) fail(id string, err error) {
	c.log.Debug("request failed", "error", err)
	c.enqueue(signaling.ErrorResponse(id, err))
}

func (c *Conn) handle(msg *signaling.Message) {
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()
	st := c.hub.store

	switch msg.Type {
	case signaling.MessageTypeInsertCall:
		call, err := st.InsertCall(ctx)
		if err != nil {
			c.fail(msg.ID, err)
			return
		}
		c.hub.Claim(c, call.ID)
		c.reply(msg.ID, call)

	case signaling.MessageTypeGetCall:
		var req signaling.CallRequest
		if !c.decode(msg, &req) {
			return
		}
		call, err := st.GetCall(ctx, req.CallID)
		if err != nil {
			c.fail(msg.ID, err)
			return
		}
		c.reply(msg.ID, call)

	case signaling.MessageTypeSetOffer, signaling.MessageTypeSetAnswer:
		var req signaling.DescriptionRequest
		if !c.decode(msg, &req) {
			return
		}
		var err error
		if msg.Type == signaling.MessageTypeSetOffer {
			err = st.SetOffer(ctx, req.CallID, req.Description)
		} else {
			err = st.SetAnswer(ctx, req.CallID, req.Description)
		}
		if err != nil {
			c.fail(msg.ID, err)
			return
		}
		if msg.Type == signaling.MessageTypeSetAnswer {
			c.hub.Claim(c, req.CallID)
		}
		c.reply(msg.ID, nil)

	case signaling.MessageTypeDeleteCall:
		var req signaling.CallRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := st.DeleteCall(ctx, req.CallID); err != nil {
			c.fail(msg.ID, err)
			return
		}
		c.reply(msg.ID, nil)

	case signaling.MessageTypeAddCandidate:
		var req signaling.CandidateRequest
		if !c.decode(msg, &req) {
			return
		}
		cand, err := st.AddCandidate(ctx, req.Channel, req.Candidate)
		if err != nil {
			c.fail(msg.ID, err)
			return
		}
		c.reply(msg.ID, cand)

	case signaling.MessageTypeListCandidates:
		var req signaling.ListRequest
		if !c.decode(msg, &req) {
			return
		}
		list, err := st.ListCandidates(ctx, req.Channel, req.CallID)
		if err != nil {
			c.fail(msg.ID, err)
			return
		}
		c.reply(msg.ID, list)

	case signaling.MessageTypeSubscribe:
		var req signaling.SubscribeRequest
		if !c.decode(msg, &req) {
			return
		}
		c.subscribe(msg.ID, msg.SubID, req.Filter)

	case signaling.MessageTypeUnsubscribe:
		if sub, ok := c.subs[msg.SubID]; ok {
			sub.Close()
			delete(c.subs, msg.SubID)
		}

	default:
		c.fail(msg.ID, store.ErrInvalid)
	}
}

func (c *Conn) decode(msg *signaling.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		c.fail(msg.ID, fmt.Errorf("%w: %v", store.ErrInvalid, err))
		return false
	}
	return true
}

// subscribe opens a store subscription bound to the connection and
// forwards its events tagged with subID.
func (c *Conn) subscribe(reqID, subID string, f store.Filter) {
	if subID == "" {
		c.fail(reqID, store.ErrInvalid)
		return
	}
	if _, dup := c.subs[subID]; dup {
		c.fail(reqID, store.ErrConflict)
		return
	}
	sub, err := c.hub.store.Subscribe(c.ctx, f)
	if err != nil {
		c.fail(reqID, err)
		return
	}
	c.subs[subID] = sub

	go func() {
		for ev := range sub.Events() {
			msg, err := signaling.NewMessage(signaling.MessageTypeEvent, "", ev)
			if err != nil {
				c.log.Error("encode event", "error", err)
				continue
			}
			msg.SubID = subID
			c.enqueue(msg)
		}
	}()
	c.reply(reqID, nil)
}
