package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/dns"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrDisconnected is returned for requests pending when the connection
// drops.
var ErrDisconnected = errors.New("signaling connection lost")

// Client is a store.Store backed by a remote signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	log       *slog.Logger
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan *Message
	subs    map[string]*store.Feed
}

var _ store.Store = (*Client)(nil)

// NewClient creates a new signaling client
func NewClient(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		log:       logger,
		outgoing:  make(chan []byte, 64),
		done:      make(chan struct{}),
		pending:   make(map[string]chan *Message),
		subs:      make(map[string]*store.Feed),
	}
}

// Connect establishes WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		// System resolver first, public resolvers as fallback.
		resolvedIP, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, err
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("signaling connection closed", "error", err)
			}
			return
		}
		msg, err := Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.route(msg)
	}
}

func (c *Client) route(msg *Message) {
	switch msg.Type {
	case MessageTypeEvent:
		c.mu.Lock()
		feed := c.subs[msg.SubID]
		c.mu.Unlock()
		if feed == nil {
			return
		}
		var ev store.Event
		if err := msg.DecodePayload(&ev); err != nil {
			c.log.Warn("dropping malformed event", "error", err)
			return
		}
		feed.Push(ev)

	case MessageTypeResult, MessageTypeError:
		c.mu.Lock()
		ch := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- msg
		}

	default:
		c.log.Debug("ignoring message", "type", msg.Type)
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// shutdown fails pending requests and ends every subscription.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		pending := c.pending
		subs := c.subs
		c.pending = make(map[string]chan *Message)
		c.subs = make(map[string]*store.Feed)
		c.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		for _, feed := range subs {
			feed.Close()
		}
	})
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) send(ctx context.Context, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request sends a request and waits for its result, decoding the payload
// into out when out is non-nil.
func (c *Client) request(ctx context.Context, op, typ string, payload, out any) error {
	msg, err := NewMessage(typ, uuid.NewString(), payload)
	if err != nil {
		return store.NewError(op, err)
	}
	return c.roundTrip(ctx, op, msg, out)
}

func (c *Client) roundTrip(ctx context.Context, op string, msg *Message, out any) error {
	ch := make(chan *Message, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return store.NewError(op, ErrDisconnected)
	default:
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	if err := c.send(ctx, msg); err != nil {
		forget()
		return store.NewError(op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return store.NewError(op, ErrDisconnected)
		}
		if resp.Type == MessageTypeError {
			if resp.Error == nil {
				return store.NewError(op, errors.New("unknown server error"))
			}
			return store.NewError(op, resp.Error.Err())
		}
		if out != nil {
			if err := resp.DecodePayload(out); err != nil {
				return store.NewError(op, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return store.NewError(op, ctx.Err())
	}
}

func (c *Client) InsertCall(ctx context.Context) (store.Call, error) {
	var call store.Call
	err := c.request(ctx, "insert call", MessageTypeInsertCall, nil, &call)
	return call, err
}

func (c *Client) GetCall(ctx context.Context, id string) (store.Call, error) {
	var call store.Call
	err := c.request(ctx, "get call", MessageTypeGetCall, CallRequest{CallID: id}, &call)
	return call, err
}

func (c *Client) SetOffer(ctx context.Context, id string, d store.Description) error {
	return c.request(ctx, "set offer", MessageTypeSetOffer, DescriptionRequest{CallID: id, Description: d}, nil)
}

func (c *Client) SetAnswer(ctx context.Context, id string, d store.Description) error {
	return c.request(ctx, "set answer", MessageTypeSetAnswer, DescriptionRequest{CallID: id, Description: d}, nil)
}

func (c *Client) DeleteCall(ctx context.Context, id string) error {
	return c.request(ctx, "delete call", MessageTypeDeleteCall, CallRequest{CallID: id}, nil)
}

func (c *Client) AddCandidate(ctx context.Context, ch store.Channel, cand store.Candidate) (store.Candidate, error) {
	var out store.Candidate
	err := c.request(ctx, "add candidate", MessageTypeAddCandidate, CandidateRequest{Channel: ch, Candidate: cand}, &out)
	return out, err
}

func (c *Client) ListCandidates(ctx context.Context, ch store.Channel, callID string) ([]store.Candidate, error) {
	var out []store.Candidate
	err := c.request(ctx, "list candidates", MessageTypeListCandidates, ListRequest{Channel: ch, CallID: callID}, &out)
	return out, err
}

// Subscribe opens a server-side subscription. The feed is registered
// before the request goes out so no event can outrun it.
func (c *Client) Subscribe(ctx context.Context, f store.Filter) (store.Subscription, error) {
	const op = "subscribe"
	subID := uuid.NewString()
	feed := store.NewFeed(func() { c.unsubscribe(subID) })

	c.mu.Lock()
	c.subs[subID] = feed
	c.mu.Unlock()

	msg, err := NewMessage(MessageTypeSubscribe, uuid.NewString(), SubscribeRequest{Filter: f})
	if err != nil {
		feed.Close()
		return nil, store.NewError(op, err)
	}
	msg.SubID = subID
	if err := c.roundTrip(ctx, op, msg, nil); err != nil {
		feed.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-feed.Done():
		}
	}()
	return feed, nil
}

// unsubscribe drops the local feed and tells the server, best effort.
func (c *Client) unsubscribe(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()

	msg := &Message{Type: MessageTypeUnsubscribe, SubID: subID}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.send(ctx, msg); err != nil && !errors.Is(err, ErrDisconnected) {
		c.log.Debug("unsubscribe not sent", "sub_id", subID, "error", err)
	}
}
