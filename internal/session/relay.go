package session

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/pion/webrtc/v4"
)

const publishTimeout = 10 * time.Second

// relay moves candidates between the engine and the store.
//
// Every method runs on the coordinator's dispatcher goroutine, which is the
// only synchronization relay needs.
type relay struct {
	ctx   context.Context
	store store.Store
	eng   engine.Engine
	local store.Channel
	log   *slog.Logger

	callID       string
	pendingLocal []webrtc.ICECandidateInit

	snapshotDone  bool
	held          []store.Candidate
	seen          map[int64]bool
	remoteReady   bool
	pendingRemote []webrtc.ICECandidateInit

	published int
	applied   int
}

func newRelay(ctx context.Context, st store.Store, eng engine.Engine, role Role, log *slog.Logger) *relay {
	local := store.OfferSide
	if role == Callee {
		local = store.AnswerSide
	}
	return &relay{
		ctx:   ctx,
		store: st,
		eng:   eng,
		local: local,
		log:   log,
		seen:  make(map[int64]bool),
	}
}

// remote is the channel the peer publishes into.
func (r *relay) remote() store.Channel {
	return r.local.Peer()
}

// setCallID publishes any candidates gathered before the call existed.
func (r *relay) setCallID(id string) {
	r.callID = id
	pending := r.pendingLocal
	r.pendingLocal = nil
	for _, c := range pending {
		r.publish(c)
	}
}

// localCandidate handles a candidate gathered by the engine. Publishing
// does not wait for the remote description.
func (r *relay) localCandidate(c webrtc.ICECandidateInit) {
	if r.callID == "" {
		r.pendingLocal = append(r.pendingLocal, c)
		return
	}
	r.publish(c)
}

func (r *relay) publish(c webrtc.ICECandidateInit) {
	ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
	defer cancel()

	rec := store.Candidate{
		CallID:           r.callID,
		Candidate:        c.Candidate,
		SDPMLineIndex:    c.SDPMLineIndex,
		SDPMid:           c.SDPMid,
		UsernameFragment: c.UsernameFragment,
	}
	if _, err := r.store.AddCandidate(ctx, r.local, rec); err != nil {
		if r.ctx.Err() == nil {
			r.log.Warn("publish candidate failed", "channel", r.local.String(), "error", err)
		}
		return
	}
	r.published++
}

// snapshot feeds the records that existed when the live subscription
// opened, then releases live records held back while the read ran.
func (r *relay) snapshot(list []store.Candidate) {
	slices.SortFunc(list, func(a, b store.Candidate) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for _, c := range list {
		r.feed(c)
	}
	r.snapshotDone = true

	held := r.held
	r.held = nil
	for _, c := range held {
		r.feed(c)
	}
}

// live handles a candidate from the subscription.
func (r *relay) live(c store.Candidate) {
	if !r.snapshotDone {
		r.held = append(r.held, c)
		return
	}
	r.feed(c)
}

// feed drops records already seen through the other source.
func (r *relay) feed(c store.Candidate) {
	if r.seen[c.ID] {
		return
	}
	r.seen[c.ID] = true
	r.deliver(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMLineIndex:    c.SDPMLineIndex,
		SDPMid:           c.SDPMid,
		UsernameFragment: c.UsernameFragment,
	})
}

// deliver hands c to the engine once the remote description is set and
// queues it until then.
func (r *relay) deliver(c webrtc.ICECandidateInit) {
	if !r.remoteReady {
		r.pendingRemote = append(r.pendingRemote, c)
		return
	}
	r.apply(c)
}

// setRemoteReady must only be called after SetRemoteDescription returned.
func (r *relay) setRemoteReady() {
	if r.remoteReady {
		return
	}
	r.remoteReady = true
	pending := r.pendingRemote
	r.pendingRemote = nil
	if len(pending) > 0 {
		r.log.Debug("flushing buffered candidates", "count", len(pending))
	}
	for _, c := range pending {
		r.apply(c)
	}
}

func (r *relay) apply(c webrtc.ICECandidateInit) {
	if err := r.eng.AddICECandidate(c); err != nil {
		r.log.Warn("add remote candidate failed", "candidate", c.Candidate, "error", err)
		return
	}
	r.applied++
}
