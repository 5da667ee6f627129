package store

import (
	"fmt"
	"time"
)

// Table names the logical record sets a subscription can watch.
type Table string

const (
	TableCalls            Table = "calls"
	TableOfferCandidates  Table = "offer_candidates"
	TableAnswerCandidates Table = "answer_candidates"
)

// EventType is the kind of change carried by an Event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Channel selects which side's candidates a record belongs to.
type Channel int

const (
	// OfferSide holds candidates published by the caller.
	OfferSide Channel = iota
	// AnswerSide holds candidates published by the callee.
	AnswerSide
)

// Table returns the table backing the channel.
func (c Channel) Table() Table {
	if c == AnswerSide {
		return TableAnswerCandidates
	}
	return TableOfferCandidates
}

// Peer returns the opposite channel.
func (c Channel) Peer() Channel {
	if c == AnswerSide {
		return OfferSide
	}
	return AnswerSide
}

func (c Channel) String() string {
	switch c {
	case OfferSide:
		return "offer-side"
	case AnswerSide:
		return "answer-side"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ChannelForTable maps a candidate table back to its channel.
func ChannelForTable(t Table) (Channel, bool) {
	switch t {
	case TableOfferCandidates:
		return OfferSide, true
	case TableAnswerCandidates:
		return AnswerSide, true
	default:
		return 0, false
	}
}

// Description is a session description as stored on a call row.
type Description struct {
	SDP  string `msgpack:"sdp" json:"sdp"`
	Type string `msgpack:"type" json:"type"`
}

// Empty reports whether no description has been written.
func (d *Description) Empty() bool {
	return d == nil || d.SDP == ""
}

// Call is the signaling record pairing an offer with an optional answer.
type Call struct {
	ID        string       `msgpack:"id"`
	Offer     *Description `msgpack:"offer,omitempty"`
	Answer    *Description `msgpack:"answer,omitempty"`
	CreatedAt time.Time    `msgpack:"created_at"`
}

// Candidate is one connectivity candidate published for a call.
// ID is assigned by the store and increases with insertion order
// within a channel.
type Candidate struct {
	ID               int64   `msgpack:"id"`
	CallID           string  `msgpack:"call_id"`
	Candidate        string  `msgpack:"candidate"`
	SDPMLineIndex    *uint16 `msgpack:"sdp_mline_index,omitempty"`
	SDPMid           *string `msgpack:"sdp_mid,omitempty"`
	UsernameFragment *string `msgpack:"username_fragment,omitempty"`
}

// Event is a single change notification. Call is set for the calls table,
// Candidate for the candidate tables. For deletes only the identifying
// fields are populated.
type Event struct {
	Type      EventType  `msgpack:"type"`
	Table     Table      `msgpack:"table"`
	Call      *Call      `msgpack:"call,omitempty"`
	Candidate *Candidate `msgpack:"candidate,omitempty"`
}

// CallID returns the call the event refers to.
func (e Event) CallID() string {
	switch {
	case e.Call != nil:
		return e.Call.ID
	case e.Candidate != nil:
		return e.Candidate.CallID
	default:
		return ""
	}
}

// Filter selects the events a subscription receives.
// An empty CallID matches every call.
type Filter struct {
	Table  Table     `msgpack:"table"`
	Event  EventType `msgpack:"event"`
	CallID string    `msgpack:"call_id,omitempty"`
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.Table != ev.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != ev.Type {
		return false
	}
	if f.CallID != "" && f.CallID != ev.CallID() {
		return false
	}
	return true
}

// CallSummary is the operator view of a call row.
type CallSummary struct {
	ID               string
	CreatedAt        time.Time
	HasOffer         bool
	HasAnswer        bool
	OfferCandidates  int
	AnswerCandidates int
}
