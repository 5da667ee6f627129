package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/iceservers"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/pion/webrtc/v4"
)

func TestCreateJoinConnect(t *testing.T) {
	st := newMemStore(t)
	callerEng, calleeEng := &fakeEngine{}, &fakeEngine{}
	caller := New(st, factoryFor(callerEng))
	callee := New(st, factoryFor(calleeEng))
	ctx := context.Background()

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if caller.Role() != Caller || caller.CallID() != id || caller.State() != Creating {
		t.Fatalf("unexpected caller after create: role=%v id=%q state=%v", caller.Role(), caller.CallID(), caller.State())
	}
	call, _ := st.GetCall(ctx, id)
	if call.Offer.Empty() || call.Answer != nil {
		t.Fatalf("expected offer only, got %+v", call)
	}

	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if callee.State() != AwaitingRemoteDescription {
		t.Fatalf("callee state = %v", callee.State())
	}
	eventually(t, "caller applies answer", callerEng.RemoteDescriptionSet)
	eventually(t, "caller awaiting connection", func() bool { return caller.State() == AwaitingRemoteDescription })

	callerEng.emitCandidate("caller-1")
	calleeEng.emitCandidate("callee-1")
	eventually(t, "callee receives caller candidate", func() bool {
		_, added, _, _, _ := calleeEng.snapshot()
		return slices.Contains(added, "caller-1")
	})
	eventually(t, "caller receives callee candidate", func() bool {
		_, added, _, _, _ := callerEng.snapshot()
		return slices.Contains(added, "callee-1")
	})

	callerEng.emitState(webrtc.PeerConnectionStateConnected)
	calleeEng.emitState(webrtc.PeerConnectionStateConnected)
	eventually(t, "both connected", func() bool {
		return caller.State() == Connected && callee.State() == Connected
	})

	caller.Teardown()
	waitDone(t, caller)
	waitDone(t, callee)

	if caller.Err() != nil {
		t.Fatalf("local hangup should have no cause, got %v", caller.Err())
	}
	if !errors.Is(callee.Err(), ErrRemoteHangup) {
		t.Fatalf("callee cause = %v, want ErrRemoteHangup", callee.Err())
	}
	if st.callCount() != 0 || st.deleteCount() != 1 {
		t.Fatalf("expected a single delete, calls=%d deletes=%d", st.callCount(), st.deleteCount())
	}

	var states []State
	for ev := range caller.Events() {
		states = append(states, ev.To)
	}
	want := []State{Creating, AwaitingRemoteDescription, Connected, Closed}
	if !slices.Equal(states, want) {
		t.Fatalf("caller transitions = %v, want %v", states, want)
	}

	for _, e := range []*fakeEngine{callerEng, calleeEng} {
		_, _, violations, closes, setRemotes := e.snapshot()
		if violations != 0 || closes != 1 || setRemotes != 1 {
			t.Fatalf("violations=%d closes=%d setRemotes=%d", violations, closes, setRemotes)
		}
	}
}

// Callee candidates written before the caller reads its snapshot, one of
// them also seen live, reach the caller's engine after the answer, once
// each, in insertion order.
func TestEarlyCandidatesAppliedAfterAnswer(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	caller := New(st, factoryFor(eng))
	ctx := context.Background()

	add := func(id, c string) {
		if _, err := st.AddCandidate(ctx, store.AnswerSide, store.Candidate{CallID: id, Candidate: c}); err != nil {
			t.Error(err)
		}
	}
	st.afterSetOffer = func(id string) {
		add(id, "early-1")
		add(id, "early-2")
	}
	st.beforeList = func(ch store.Channel, id string) {
		// Seen by both the live subscription and the snapshot.
		add(id, "overlap-3")
	}

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	st.beforeList = nil
	add(id, "live-4")

	if err := st.SetAnswer(ctx, id, store.Description{SDP: "v=0 answer", Type: "answer"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "all candidates applied", func() bool {
		_, added, _, _, _ := eng.snapshot()
		return len(added) == 4
	})

	log, added, violations, _, _ := eng.snapshot()
	if violations != 0 {
		t.Fatalf("%d candidates applied before the remote description", violations)
	}
	if want := []string{"early-1", "early-2", "overlap-3", "live-4"}; !slices.Equal(added, want) {
		t.Fatalf("applied %v, want %v", added, want)
	}
	remoteAt := slices.Index(log, "set-remote:answer")
	firstCand := slices.IndexFunc(log, func(s string) bool { return s == "candidate:early-1" })
	if remoteAt < 0 || firstCand < remoteAt {
		t.Fatalf("candidate applied before remote description: %v", log)
	}
	caller.Teardown()
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	caller := New(st, factoryFor(eng))
	ctx := context.Background()

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	answer := store.Description{SDP: "v=0 answer", Type: "answer"}
	if err := st.SetAnswer(ctx, id, answer); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAnswer(ctx, id, answer); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second answer write: expected ErrConflict, got %v", err)
	}
	if err := st.SetOffer(ctx, id, answer); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second offer write: expected ErrConflict, got %v", err)
	}
	// A replayed notification must not re-apply the answer.
	call, _ := st.GetCall(ctx, id)
	st.n.Publish(store.Event{Type: store.EventUpdate, Table: store.TableCalls, Call: &call})

	eventually(t, "answer applied", eng.RemoteDescriptionSet)
	time.Sleep(50 * time.Millisecond)
	_, _, _, _, setRemotes := eng.snapshot()
	if setRemotes != 1 {
		t.Fatalf("answer applied %d times", setRemotes)
	}
	caller.Teardown()
}

func TestTeardownIdempotent(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	c := New(st, factoryFor(eng))

	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Teardown()
		}()
	}
	wg.Wait()
	c.Teardown()
	waitDone(t, c)

	_, _, _, closes, _ := eng.snapshot()
	if closes != 1 {
		t.Fatalf("engine closed %d times", closes)
	}
	if st.deleteCount() != 1 {
		t.Fatalf("call deleted %d times", st.deleteCount())
	}
	if c.State() != Closed {
		t.Fatalf("state = %v", c.State())
	}
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("create after teardown: %v", err)
	}
}

func TestICEFailureCreatesNothing(t *testing.T) {
	st := newMemStore(t)
	built := false
	factory := func(context.Context, []webrtc.ICEServer) (engine.Engine, error) {
		built = true
		return &fakeEngine{}, nil
	}
	failing := iceservers.ProviderFunc(func(context.Context) ([]webrtc.ICEServer, error) {
		return nil, errors.New("ice endpoint unreachable")
	})

	t.Run("caller", func(t *testing.T) {
		c := New(st, factory, WithICEServers(failing))
		_, err := c.CreateSession(context.Background())
		if !errors.Is(err, ErrEngineSetup) {
			t.Fatalf("expected ErrEngineSetup, got %v", err)
		}
		var se *Error
		if !errors.As(err, &se) || se.Op != "create session" {
			t.Fatalf("expected *Error for create session, got %T %v", err, err)
		}
		waitDone(t, c)
	})

	t.Run("malformed list", func(t *testing.T) {
		bad := iceservers.Static([]webrtc.ICEServer{{URLs: []string{"ftp://nope"}}})
		c := New(st, factory, WithICEServers(bad))
		if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrEngineSetup) {
			t.Fatalf("expected ErrEngineSetup, got %v", err)
		}
	})

	t.Run("callee", func(t *testing.T) {
		call, _ := st.InsertCall(context.Background())
		st.SetOffer(context.Background(), call.ID, store.Description{SDP: "o", Type: "offer"})
		c := New(st, factory, WithICEServers(failing))
		if err := c.JoinSession(context.Background(), call.ID); !errors.Is(err, ErrEngineSetup) {
			t.Fatalf("expected ErrEngineSetup, got %v", err)
		}
		got, _ := st.GetCall(context.Background(), call.ID)
		if got.Answer != nil {
			t.Fatal("callee touched the row")
		}
		st.DeleteCall(context.Background(), call.ID)
	})

	if built {
		t.Fatal("engine built despite ICE failure")
	}
	if st.callCount() != 0 {
		t.Fatalf("%d calls created", st.callCount())
	}
}

func TestJoinNotFound(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()

	c := New(st, factoryFor(&fakeEngine{}))
	if err := c.JoinSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	call, _ := st.InsertCall(ctx)
	c = New(st, factoryFor(&fakeEngine{}))
	if err := c.JoinSession(ctx, call.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("call without offer: expected ErrSessionNotFound, got %v", err)
	}
	if st.callCount() != 1 {
		t.Fatal("failed join must not delete the row")
	}
}

func TestSecondStartRejected(t *testing.T) {
	st := newMemStore(t)
	c := New(st, factoryFor(&fakeEngine{}))
	defer c.Teardown()

	id, err := c.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := c.JoinSession(context.Background(), id); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestConnectionLossTearsDown(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	c := New(st, factoryFor(eng))
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	eng.emitState(webrtc.PeerConnectionStateConnecting)
	eng.emitState(webrtc.PeerConnectionStateClosed)
	eng.emitState(webrtc.PeerConnectionStateDisconnected)
	waitDone(t, c)

	if !errors.Is(c.Err(), ErrDisconnected) {
		t.Fatalf("cause = %v", c.Err())
	}
	if st.callCount() != 0 {
		t.Fatal("call row not deleted")
	}
}

func TestOtherStatesKeepSession(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	c := New(st, factoryFor(eng))
	defer c.Teardown()
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, s := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateNew,
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
	} {
		eng.emitState(s)
	}

	select {
	case <-c.Done():
		t.Fatalf("session closed, cause = %v", c.Err())
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() == Closed || st.callCount() != 1 {
		t.Fatalf("state %v, %d rows", c.State(), st.callCount())
	}
}

func TestSnapshotFailureAbortsStart(t *testing.T) {
	listErr := errors.New("disk I/O error")

	t.Run("create", func(t *testing.T) {
		st := newMemStore(t)
		st.listErr = listErr
		c := New(st, factoryFor(&fakeEngine{}))

		if _, err := c.CreateSession(context.Background()); !errors.Is(err, listErr) {
			t.Fatalf("expected snapshot error, got %v", err)
		}
		waitDone(t, c)
		if st.callCount() != 0 {
			t.Fatal("call row left behind")
		}
	})

	t.Run("join", func(t *testing.T) {
		st := newMemStore(t)
		call, err := st.InsertCall(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := st.SetOffer(context.Background(), call.ID, store.Description{SDP: "v=0 offer", Type: "offer"}); err != nil {
			t.Fatal(err)
		}
		st.listErr = listErr
		eng := &fakeEngine{}
		c := New(st, factoryFor(eng))

		if err := c.JoinSession(context.Background(), call.ID); !errors.Is(err, listErr) {
			t.Fatalf("expected snapshot error, got %v", err)
		}
		waitDone(t, c)
		if _, _, _, _, setRemotes := eng.snapshot(); setRemotes != 0 {
			t.Fatal("offer applied after failed snapshot")
		}
	})
}

func TestInsertFailure(t *testing.T) {
	st := newMemStore(t)
	st.insertErr = errors.New("database is locked")
	eng := &fakeEngine{}
	c := New(st, factoryFor(eng))

	_, err := c.CreateSession(context.Background())
	var serr *store.Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected store error, got %v", err)
	}
	waitDone(t, c)
	if _, _, _, closes, _ := eng.snapshot(); closes != 1 {
		t.Fatal("engine not released after failed create")
	}
}

func TestLocalCandidatesBeforeCallID(t *testing.T) {
	st := newMemStore(t)
	eng := &fakeEngine{}
	c := New(st, factoryFor(eng))
	defer c.Teardown()

	st.afterInsert = func(string) {
		eng.emitCandidate("pooled-1")
	}
	id, err := c.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	eng.emitCandidate("after-2")

	eventually(t, "both candidates published", func() bool {
		return len(st.candidates(store.OfferSide)) == 2
	})
	got := st.candidates(store.OfferSide)
	if got[0].Candidate != "pooled-1" || got[1].Candidate != "after-2" || got[0].CallID != id {
		t.Fatalf("unexpected published candidates %+v", got)
	}
}

func TestStateNegotiating(t *testing.T) {
	want := map[State]bool{
		Idle:                      false,
		Creating:                  true,
		Joining:                   true,
		AwaitingRemoteDescription: true,
		Connected:                 false,
		Closed:                    false,
	}
	for s, negotiating := range want {
		if got := s.Negotiating(); got != negotiating {
			t.Errorf("%v.Negotiating() = %v, want %v", s, got, negotiating)
		}
	}

	c := New(newMemStore(t), factoryFor(&fakeEngine{}))
	defer c.Teardown()
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.State().Negotiating() {
		t.Fatalf("caller waiting for an answer is in %v", c.State())
	}
}
