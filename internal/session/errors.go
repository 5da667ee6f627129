package session

import (
	"errors"
	"fmt"
)

var (
	ErrEngineSetup     = errors.New("engine setup failed")
	ErrSessionNotFound = errors.New("call not found")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrClosed          = errors.New("session closed")
	ErrRemoteHangup    = errors.New("remote peer ended the call")
	ErrDisconnected    = errors.New("peer connection lost")
)

type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
