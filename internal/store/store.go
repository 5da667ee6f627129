// Package store defines the signaling store contract shared by the call
// coordinator, the websocket server and the remote client.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("field already set")
	ErrClosed   = errors.New("store closed")
	ErrInvalid  = errors.New("invalid request")
)

// Store persists calls and candidates and delivers change notifications.
type Store interface {
	// InsertCall creates an empty call row and returns it with its id.
	InsertCall(ctx context.Context) (Call, error)
	GetCall(ctx context.Context, id string) (Call, error)
	// SetOffer and SetAnswer write their field exactly once; a second
	// write fails with ErrConflict.
	SetOffer(ctx context.Context, id string, d Description) error
	SetAnswer(ctx context.Context, id string, d Description) error
	// DeleteCall removes the call and all of its candidates.
	DeleteCall(ctx context.Context, id string) error
	AddCandidate(ctx context.Context, ch Channel, c Candidate) (Candidate, error)
	// ListCandidates returns the channel's candidates for callID in
	// insertion order.
	ListCandidates(ctx context.Context, ch Channel, callID string) ([]Candidate, error)
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// Subscription is a live stream of events matching a filter.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Error carries the failing operation alongside the cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err for op. A nil err yields nil.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Op == op {
		return err
	}
	return &Error{Op: op, Err: err}
}
