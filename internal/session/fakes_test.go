package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/pion/webrtc/v4"
)

// memStore is an in-memory store.Store. Hook fields run outside the lock
// so they may call back into the store.
type memStore struct {
	n *store.Notifier

	mu      sync.Mutex
	calls   map[string]store.Call
	cands   map[store.Channel][]store.Candidate
	seq     int64
	nextID  int
	deletes int

	insertErr     error
	listErr       error
	afterInsert   func(id string)
	afterSetOffer func(id string)
	beforeList    func(ch store.Channel, id string)
}

func newMemStore(t *testing.T) *memStore {
	n := store.NewNotifier()
	go n.Run()
	t.Cleanup(n.Stop)
	return &memStore{
		n:     n,
		calls: make(map[string]store.Call),
		cands: make(map[store.Channel][]store.Candidate),
	}
}

var _ store.Store = (*memStore)(nil)

func (m *memStore) InsertCall(ctx context.Context) (store.Call, error) {
	if m.insertErr != nil {
		return store.Call{}, store.NewError("insert call", m.insertErr)
	}
	m.mu.Lock()
	m.nextID++
	call := store.Call{ID: fmt.Sprintf("call-%d", m.nextID), CreatedAt: time.Now()}
	m.calls[call.ID] = call
	m.n.Publish(store.Event{Type: store.EventInsert, Table: store.TableCalls, Call: &call})
	m.mu.Unlock()

	if m.afterInsert != nil {
		m.afterInsert(call.ID)
	}
	return call, nil
}

func (m *memStore) GetCall(ctx context.Context, id string) (store.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok {
		return store.Call{}, store.NewError("get call", store.ErrNotFound)
	}
	return call, nil
}

func (m *memStore) set(id string, offer bool, d store.Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok {
		return store.ErrNotFound
	}
	field := &call.Answer
	if offer {
		field = &call.Offer
	}
	if *field != nil {
		return store.ErrConflict
	}
	*field = &d
	m.calls[id] = call
	m.n.Publish(store.Event{Type: store.EventUpdate, Table: store.TableCalls, Call: &call})
	return nil
}

func (m *memStore) SetOffer(ctx context.Context, id string, d store.Description) error {
	if err := m.set(id, true, d); err != nil {
		return store.NewError("set offer", err)
	}
	if m.afterSetOffer != nil {
		m.afterSetOffer(id)
	}
	return nil
}

func (m *memStore) SetAnswer(ctx context.Context, id string, d store.Description) error {
	return store.NewError("set answer", m.set(id, false, d))
}

func (m *memStore) DeleteCall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[id]; !ok {
		return store.NewError("delete call", store.ErrNotFound)
	}
	delete(m.calls, id)
	m.deletes++
	m.n.Publish(store.Event{Type: store.EventDelete, Table: store.TableCalls, Call: &store.Call{ID: id}})
	return nil
}

func (m *memStore) AddCandidate(ctx context.Context, ch store.Channel, c store.Candidate) (store.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[c.CallID]; !ok {
		return store.Candidate{}, store.NewError("add candidate", store.ErrNotFound)
	}
	m.seq++
	c.ID = m.seq
	m.cands[ch] = append(m.cands[ch], c)
	stored := c
	m.n.Publish(store.Event{Type: store.EventInsert, Table: ch.Table(), Candidate: &stored})
	return c, nil
}

func (m *memStore) ListCandidates(ctx context.Context, ch store.Channel, callID string) ([]store.Candidate, error) {
	if m.beforeList != nil {
		m.beforeList(ch, callID)
	}
	if m.listErr != nil {
		return nil, store.NewError("list candidates", m.listErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Candidate
	for _, c := range m.cands[ch] {
		if c.CallID == callID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) Subscribe(ctx context.Context, f store.Filter) (store.Subscription, error) {
	return m.n.Subscribe(ctx, f)
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *memStore) deleteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

func (m *memStore) candidates(ch store.Channel) []store.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Candidate(nil), m.cands[ch]...)
}

// fakeEngine records every call in order. AddICECandidate before the
// remote description counts as an ordering violation.
type fakeEngine struct {
	mu         sync.Mutex
	log        []string
	remoteSet  bool
	added      []string
	violations int
	closes     int
	setRemotes int

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)

	setRemoteErr error
}

var _ engine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) record(s string) {
	f.mu.Lock()
	f.log = append(f.log, s)
	f.mu.Unlock()
}

func (f *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeEngine) SetLocalDescription(d webrtc.SessionDescription) error {
	f.record("set-local:" + d.Type.String())
	return nil
}

func (f *fakeEngine) SetRemoteDescription(d webrtc.SessionDescription) error {
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "set-remote:"+d.Type.String())
	f.remoteSet = true
	f.setRemotes++
	return nil
}

func (f *fakeEngine) RemoteDescriptionSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSet
}

func (f *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		f.violations++
	}
	f.log = append(f.log, "candidate:"+c.Candidate)
	f.added = append(f.added, c.Candidate)
	return nil
}

func (f *fakeEngine) OnLocalCandidate(h func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCandidate = h
	f.mu.Unlock()
}

func (f *fakeEngine) OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeEngine) OnConnectionStateChange(h func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = h
	f.mu.Unlock()
}

func (f *fakeEngine) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return nil, errors.New("not supported")
}

func (f *fakeEngine) ReplaceTrack(webrtc.RTPCodecType, webrtc.TrackLocal) error {
	return errors.New("not supported")
}

func (f *fakeEngine) Senders() []*webrtc.RTPSender { return nil }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.onCandidate = nil
	f.onState = nil
	return nil
}

func (f *fakeEngine) emitCandidate(c string) {
	f.mu.Lock()
	h := f.onCandidate
	f.mu.Unlock()
	if h != nil {
		h(webrtc.ICECandidateInit{Candidate: c})
	}
}

func (f *fakeEngine) emitState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	h := f.onState
	f.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (f *fakeEngine) snapshot() (log, added []string, violations, closes, setRemotes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...), append([]string(nil), f.added...), f.violations, f.closes, f.setRemotes
}

func factoryFor(e *fakeEngine) EngineFactory {
	return func(context.Context, []webrtc.ICEServer) (engine.Engine, error) {
		return e, nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("coordinator did not close")
	}
}
