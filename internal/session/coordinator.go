// Package session negotiates a two-party call through a signaling store:
// the caller creates a call and offers, the callee joins by id and
// answers, and both relay connectivity candidates until the peer
// connection is up.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/iceservers"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/pion/webrtc/v4"
)

const defaultDeleteTimeout = 5 * time.Second

// DefaultICEServers is used when no provider is configured.
var DefaultICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// EngineFactory builds the peer connection once the ICE servers are known.
type EngineFactory func(ctx context.Context, servers []webrtc.ICEServer) (engine.Engine, error)

// PionEngines returns a factory building pion engines from base with the
// resolved server list.
func PionEngines(base engine.Options) EngineFactory {
	return func(_ context.Context, servers []webrtc.ICEServer) (engine.Engine, error) {
		opts := base
		opts.ICEServers = servers
		return engine.NewPion(opts)
	}
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithTracks adds local media. The coordinator stops the tracks on
// teardown.
func WithTracks(t *media.LocalTracks) Option {
	return func(c *Coordinator) { c.tracks = t }
}

func WithICEServers(p iceservers.Provider) Option {
	return func(c *Coordinator) { c.ice = p }
}

// WithOnRemoteTrack is called from the engine's goroutine for every remote
// track. It must not block.
func WithOnRemoteTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) Option {
	return func(c *Coordinator) { c.onTrack = f }
}

// WithDeleteTimeout bounds the best-effort call deletion on teardown.
func WithDeleteTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.deleteTimeout = d }
}

// Coordinator drives one call for one peer. It is created idle; exactly one
// of CreateSession or JoinSession may be called, and Teardown ends it.
type Coordinator struct {
	store         store.Store
	newEngine     EngineFactory
	ice           iceservers.Provider
	tracks        *media.LocalTracks
	onTrack       func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	log           *slog.Logger
	deleteTimeout time.Duration

	// ctx lives until teardown and bounds every background store call.
	ctx    context.Context
	cancel context.CancelFunc
	queue  *dispatcher

	mu            sync.Mutex
	state         State
	role          Role
	callID        string
	started       bool
	closed        bool
	closeErr      error
	eng           engine.Engine
	relay         *relay
	subs          []store.Subscription
	remoteApplied bool

	events       chan StateChange
	done         chan struct{}
	teardownOnce sync.Once
}

func New(st store.Store, newEngine EngineFactory, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:         st,
		newEngine:     newEngine,
		deleteTimeout: defaultDeleteTimeout,
		ctx:           ctx,
		cancel:        cancel,
		queue:         newDispatcher(),
		events:        make(chan StateChange, int(Closed)+1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.ice == nil {
		c.ice = iceservers.Static(DefaultICEServers)
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Done is closed once teardown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Events delivers every state transition and is closed after Closed.
func (c *Coordinator) Events() <-chan StateChange {
	return c.events
}

// Err returns why the session closed. It is nil while open and after a
// local hangup.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Tracks returns the local media, if any.
func (c *Coordinator) Tracks() *media.LocalTracks {
	return c.tracks
}

// CreateSession starts a call as the caller and returns its id. The call
// is connected later, when the callee's answer arrives; watch Events.
func (c *Coordinator) CreateSession(ctx context.Context) (string, error) {
	const op = "create session"
	if err := c.begin(Caller); err != nil {
		return "", NewError(op, err)
	}

	eng, r, err := c.setupEngine(ctx)
	if err != nil {
		return "", c.fail(op, err)
	}

	c.advance(Creating)
	call, err := c.store.InsertCall(ctx)
	if err != nil {
		return "", c.fail(op, err)
	}
	if !c.adoptCall(call.ID) {
		c.deleteOrphan(call.ID)
		return "", NewError(op, ErrClosed)
	}
	c.queue.post(func() { r.setCallID(call.ID) })

	if err := c.watch(call.ID); err != nil {
		return "", c.fail(op, err)
	}

	answers, err := c.store.Subscribe(c.ctx, store.Filter{
		Table:  store.TableCalls,
		Event:  store.EventUpdate,
		CallID: call.ID,
	})
	if err != nil {
		return "", c.fail(op, err)
	}
	if !c.own(answers) {
		return "", NewError(op, ErrClosed)
	}
	go forward(answers, c.queue.post, func(ev store.Event) { c.callUpdated(ev, r) })

	offer, err := eng.CreateOffer()
	if err != nil {
		return "", c.fail(op, fmt.Errorf("create offer: %w", err))
	}
	if err := eng.SetLocalDescription(offer); err != nil {
		return "", c.fail(op, fmt.Errorf("set local description: %w", err))
	}
	if err := c.store.SetOffer(ctx, call.ID, store.Description{SDP: offer.SDP, Type: offer.Type.String()}); err != nil {
		return "", c.fail(op, err)
	}

	if err := c.startInbound(ctx, call.ID, r); err != nil {
		return "", c.fail(op, err)
	}

	c.logger().Info("call created")
	return call.ID, nil
}

// JoinSession answers the call with the given id.
func (c *Coordinator) JoinSession(ctx context.Context, id string) error {
	const op = "join session"
	if err := c.begin(Callee); err != nil {
		return NewError(op, err)
	}

	eng, r, err := c.setupEngine(ctx)
	if err != nil {
		return c.fail(op, err)
	}

	c.advance(Joining)
	call, err := c.store.GetCall(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.fail(op, WrapError(op, ErrSessionNotFound, id))
	}
	if err != nil {
		return c.fail(op, err)
	}
	if call.Offer == nil || call.Offer.Empty() {
		return c.fail(op, WrapError(op, ErrSessionNotFound, "call "+id+" has no offer"))
	}
	if !c.adoptCall(id) {
		return NewError(op, ErrClosed)
	}
	c.queue.post(func() { r.setCallID(id) })

	if err := c.watch(id); err != nil {
		return c.fail(op, err)
	}
	if err := c.startInbound(ctx, id, r); err != nil {
		return c.fail(op, err)
	}

	if err := eng.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  call.Offer.SDP,
	}); err != nil {
		return c.fail(op, fmt.Errorf("set remote description: %w", err))
	}
	c.markRemoteApplied()
	c.queue.post(r.setRemoteReady)

	answer, err := eng.CreateAnswer()
	if err != nil {
		return c.fail(op, fmt.Errorf("create answer: %w", err))
	}
	if err := eng.SetLocalDescription(answer); err != nil {
		return c.fail(op, fmt.Errorf("set local description: %w", err))
	}
	c.advance(AwaitingRemoteDescription)
	if err := c.store.SetAnswer(ctx, id, store.Description{SDP: answer.SDP, Type: answer.Type.String()}); err != nil {
		return c.fail(op, err)
	}

	c.logger().Info("call joined")
	return nil
}

// ReplaceTrack switches the local track of kind to the media file at path
// without renegotiating.
func (c *Coordinator) ReplaceTrack(kind webrtc.RTPCodecType, path string) error {
	c.mu.Lock()
	eng, closed := c.eng, c.closed
	c.mu.Unlock()
	if closed {
		return NewError("replace track", ErrClosed)
	}
	if eng == nil || c.tracks == nil {
		return WrapError("replace track", errors.New("no active media"), kind.String())
	}
	return c.tracks.Replace(eng, kind, path)
}

// Teardown ends the session. It is idempotent and safe to call from any
// goroutine, including while CreateSession or JoinSession is running.
func (c *Coordinator) Teardown() {
	c.teardown(nil)
}

func (c *Coordinator) begin(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.role = role
	c.log = c.log.With("role", role.String())
	return nil
}

// setupEngine resolves ICE servers, builds the engine and wires its
// callbacks. Nothing is written to the store before it succeeds.
func (c *Coordinator) setupEngine(ctx context.Context) (engine.Engine, *relay, error) {
	servers, err := iceservers.Resolve(ctx, c.ice)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ice servers: %w", ErrEngineSetup, err)
	}
	eng, err := c.newEngine(ctx, servers)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrEngineSetup, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		eng.Close()
		return nil, nil, ErrClosed
	}
	r := newRelay(c.ctx, c.store, eng, c.role, c.log)
	c.eng = eng
	c.relay = r
	c.mu.Unlock()

	w := c.watcher()
	eng.OnLocalCandidate(func(cand webrtc.ICECandidateInit) {
		c.queue.post(func() { r.localCandidate(cand) })
	})
	eng.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.queue.post(func() { w.connectionState(s) })
	})
	if c.onTrack != nil {
		eng.OnRemoteTrack(c.onTrack)
	}

	if c.tracks != nil {
		for _, t := range c.tracks.Tracks() {
			if _, err := eng.AddTrack(t); err != nil {
				return nil, nil, fmt.Errorf("%w: add %s track: %w", ErrEngineSetup, t.Kind(), err)
			}
		}
		c.tracks.Start()
	}
	return eng, r, nil
}

func (c *Coordinator) logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Coordinator) watcher() *watcher {
	return &watcher{
		log:       c.logger(),
		teardown:  c.teardown,
		connected: func() { c.advance(Connected) },
	}
}

// adoptCall records the call id unless teardown already started.
func (c *Coordinator) adoptCall(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.callID = id
	c.log = c.log.With("call_id", id)
	return true
}

// own registers sub for teardown, closing it right away if teardown
// already ran.
func (c *Coordinator) own(sub store.Subscription) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return false
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return true
}

// watch installs the lifecycle watcher on the call row.
func (c *Coordinator) watch(callID string) error {
	sub, err := c.watcher().watchCall(c.ctx, c.store, callID, c.queue.post)
	if err != nil {
		return err
	}
	if !c.own(sub) {
		return ErrClosed
	}
	return nil
}

// startInbound opens the live subscription on the peer's candidate
// channel, then reads the snapshot. Live records that arrive first are held
// by the relay until the snapshot is fed.
func (c *Coordinator) startInbound(ctx context.Context, callID string, r *relay) error {
	sub, err := c.store.Subscribe(c.ctx, store.Filter{
		Table:  r.remote().Table(),
		Event:  store.EventInsert,
		CallID: callID,
	})
	if err != nil {
		return err
	}
	if !c.own(sub) {
		return ErrClosed
	}
	go forward(sub, c.queue.post, func(ev store.Event) {
		if ev.Candidate != nil {
			r.live(*ev.Candidate)
		}
	})

	list, err := c.store.ListCandidates(ctx, r.remote(), callID)
	if err != nil {
		return err
	}
	c.queue.post(func() { r.snapshot(list) })
	return nil
}

// callUpdated applies the first answer seen on the call row. Later or
// duplicate updates are ignored.
func (c *Coordinator) callUpdated(ev store.Event, r *relay) {
	if ev.Call == nil || ev.Call.Answer == nil || ev.Call.Answer.Empty() {
		return
	}

	c.mu.Lock()
	if c.closed || c.remoteApplied || c.eng == nil || c.eng.RemoteDescriptionSet() {
		c.mu.Unlock()
		return
	}
	c.remoteApplied = true
	eng := c.eng
	c.mu.Unlock()

	if err := eng.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  ev.Call.Answer.SDP,
	}); err != nil {
		c.logger().Error("apply answer failed", "error", err)
		c.teardown(NewError("apply answer", err))
		return
	}
	c.advance(AwaitingRemoteDescription)
	r.setRemoteReady()
}

func (c *Coordinator) markRemoteApplied() {
	c.mu.Lock()
	c.remoteApplied = true
	c.mu.Unlock()
}

// advance moves forward to next. Backward moves and moves after close are
// ignored.
func (c *Coordinator) advance(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || next.rank() <= c.state.rank() {
		return
	}
	c.transition(next, nil)
}

// transition must be called with mu held.
func (c *Coordinator) transition(next State, cause error) {
	prev := c.state
	c.state = next
	c.log.Debug("state changed", "from", prev.String(), "to", next.String())
	select {
	case c.events <- StateChange{From: prev, To: next, At: time.Now(), Err: cause}:
	default:
	}
}

// fail tears the session down with err as the cause and returns err
// wrapped for op.
func (c *Coordinator) fail(op string, err error) error {
	if errors.Is(err, ErrClosed) || errors.Is(err, engine.ErrClosed) {
		return NewError(op, ErrClosed)
	}
	c.teardown(err)

	var se *Error
	if errors.As(err, &se) && se.Op == op {
		return se
	}
	return NewError(op, err)
}

func (c *Coordinator) teardown(cause error) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		eng := c.eng
		subs := c.subs
		c.subs = nil
		callID := c.callID
		log := c.log
		c.mu.Unlock()

		log.Debug("tearing down", "cause", cause)

		c.queue.stop()
		c.cancel()
		for _, sub := range subs {
			sub.Close()
		}
		if eng != nil {
			if err := eng.Close(); err != nil {
				log.Warn("close engine", "error", err)
			}
		}
		if c.tracks != nil {
			c.tracks.Stop()
		}

		if callID != "" && !errors.Is(cause, ErrRemoteHangup) {
			ctx, cancel := context.WithTimeout(context.Background(), c.deleteTimeout)
			err := c.store.DeleteCall(ctx, callID)
			cancel()
			switch {
			case errors.Is(err, store.ErrNotFound):
				log.Debug("call already deleted")
			case err != nil:
				log.Warn("delete call failed", "error", err)
			}
		}

		c.mu.Lock()
		c.transition(Closed, cause)
		close(c.events)
		c.mu.Unlock()
		close(c.done)
	})
}

// deleteOrphan removes a row inserted after teardown began.
func (c *Coordinator) deleteOrphan(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.deleteTimeout)
	defer cancel()
	if err := c.store.DeleteCall(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger().Warn("delete orphaned call failed", "call_id", id, "error", err)
	}
}
