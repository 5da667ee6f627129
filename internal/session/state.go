package session

import "time"

// Role is fixed for the lifetime of a Coordinator.
type Role int

const (
	RoleNone Role = iota
	Caller
	Callee
)

func (r Role) String() string {
	switch r {
	case Caller:
		return "caller"
	case Callee:
		return "callee"
	default:
		return "none"
	}
}

type State int

const (
	Idle State = iota
	Creating
	Joining
	AwaitingRemoteDescription
	Connected
	Closed
)

// Negotiating reports whether the handshake has started but the peers are
// not connected yet.
func (s State) Negotiating() bool {
	return s > Idle && s < Connected
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Creating:
		return "creating"
	case Joining:
		return "joining"
	case AwaitingRemoteDescription:
		return "awaiting-remote-description"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// rank orders states along the handshake. Creating and Joining are the two
// branches of negotiation and share a rank.
func (s State) rank() int {
	switch s {
	case Idle:
		return 0
	case Creating, Joining:
		return 1
	case AwaitingRemoteDescription:
		return 2
	case Connected:
		return 3
	default:
		return 4
	}
}

// StateChange is published on Coordinator.Events for every transition.
type StateChange struct {
	From State
	To   State
	At   time.Time
	// Err is the cause when To is Closed. It is nil for a local hangup.
	Err error
}
