package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func next(t *testing.T, sub store.Subscription) store.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return store.Event{}
}

func ptr[T any](v T) *T { return &v }

func TestCallLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	call, err := db.InsertCall(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if call.ID == "" || call.Offer != nil || call.Answer != nil {
		t.Fatalf("unexpected new call %+v", call)
	}

	sub, err := db.Subscribe(ctx, store.Filter{Table: store.TableCalls, Event: store.EventAll, CallID: call.ID})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	offer := store.Description{SDP: "v=0 offer", Type: "offer"}
	if err := db.SetOffer(ctx, call.ID, offer); err != nil {
		t.Fatal(err)
	}
	if err := db.SetOffer(ctx, call.ID, offer); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second SetOffer: expected ErrConflict, got %v", err)
	}
	ev := next(t, sub)
	if ev.Type != store.EventUpdate || ev.Call.Offer == nil || ev.Call.Offer.SDP != offer.SDP {
		t.Fatalf("unexpected offer event %+v", ev)
	}

	answer := store.Description{SDP: "v=0 answer", Type: "answer"}
	if err := db.SetAnswer(ctx, call.ID, answer); err != nil {
		t.Fatal(err)
	}
	ev = next(t, sub)
	if ev.Call.Answer == nil || ev.Call.Answer.Type != "answer" {
		t.Fatalf("unexpected answer event %+v", ev)
	}

	got, err := db.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Offer.SDP != offer.SDP || got.Answer.SDP != answer.SDP {
		t.Fatalf("stored call mismatch: %+v", got)
	}

	if err := db.DeleteCall(ctx, call.ID); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, sub); ev.Type != store.EventDelete {
		t.Fatalf("expected delete, got %+v", ev)
	}
	if _, err := db.GetCall(ctx, call.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := db.DeleteCall(ctx, call.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSetDescriptionErrors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.SetAnswer(ctx, "missing", store.Description{SDP: "x", Type: "answer"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	call, _ := db.InsertCall(ctx)
	if err := db.SetOffer(ctx, call.ID, store.Description{}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var se *store.Error
	if err := db.SetOffer(ctx, call.ID, store.Description{}); !errors.As(err, &se) || se.Op != "set offer" {
		t.Fatalf("expected store.Error with op, got %v", err)
	}
}

func TestCandidates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	call, _ := db.InsertCall(ctx)
	other, _ := db.InsertCall(ctx)

	sub, err := db.Subscribe(ctx, store.Filter{Table: store.TableOfferCandidates, Event: store.EventInsert, CallID: call.ID})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	for i := range 5 {
		c := store.Candidate{
			CallID:        call.ID,
			Candidate:     "candidate:" + string(rune('a'+i)),
			SDPMLineIndex: ptr(uint16(i % 2)),
			SDPMid:        ptr("0"),
		}
		if _, err := db.AddCandidate(ctx, store.OfferSide, c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.AddCandidate(ctx, store.OfferSide, store.Candidate{CallID: other.ID, Candidate: "candidate:z"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddCandidate(ctx, store.AnswerSide, store.Candidate{CallID: call.ID, Candidate: "candidate:ans"}); err != nil {
		t.Fatal(err)
	}

	var last int64
	for range 5 {
		ev := next(t, sub)
		if ev.Candidate.ID <= last {
			t.Fatalf("ids not increasing: %d after %d", ev.Candidate.ID, last)
		}
		last = ev.Candidate.ID
	}

	list, err := db.ListCandidates(ctx, store.OfferSide, call.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 offer candidates, got %d", len(list))
	}
	if list[0].Candidate != "candidate:a" || list[4].Candidate != "candidate:e" {
		t.Fatalf("candidates out of order: %+v", list)
	}
	if list[1].SDPMLineIndex == nil || *list[1].SDPMLineIndex != 1 || list[0].UsernameFragment != nil {
		t.Fatalf("optional fields not round-tripped: %+v", list[1])
	}

	if _, err := db.AddCandidate(ctx, store.OfferSide, store.Candidate{CallID: "missing", Candidate: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown call, got %v", err)
	}

	// Deleting the call cascades to its candidates.
	if err := db.DeleteCall(ctx, call.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = db.ListCandidates(ctx, store.OfferSide, call.ID)
	if len(list) != 0 {
		t.Fatalf("expected cascade delete, %d candidates remain", len(list))
	}
}

func TestListCallsAndExpiry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, _ := db.InsertCall(ctx)
	b, _ := db.InsertCall(ctx)
	db.SetOffer(ctx, a.ID, store.Description{SDP: "o", Type: "offer"})
	db.AddCandidate(ctx, store.OfferSide, store.Candidate{CallID: a.ID, Candidate: "c1"})
	db.AddCandidate(ctx, store.AnswerSide, store.Candidate{CallID: a.ID, Candidate: "c2"})

	calls, err := db.ListCalls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	for _, s := range calls {
		if s.ID == a.ID && (!s.HasOffer || s.HasAnswer || s.OfferCandidates != 1 || s.AnswerCandidates != 1) {
			t.Fatalf("bad summary %+v", s)
		}
	}

	if ids, err := db.DeleteExpired(ctx, time.Hour); err != nil || len(ids) != 0 {
		t.Fatalf("nothing should expire yet: %v %v", ids, err)
	}
	time.Sleep(5 * time.Millisecond)
	ids, err := db.DeleteExpired(ctx, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected both calls expired, got %v", ids)
	}
	if _, err := db.GetCall(ctx, b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired call gone, got %v", err)
	}
}
