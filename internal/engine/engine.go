// Package engine wraps the WebRTC peer connection behind the small surface
// the call coordinator drives.
package engine

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("engine closed")

// Engine is one peer connection. Handlers are registered once during
// setup; Close clears them so no callback fires after teardown.
type Engine interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescriptionSet() bool
	AddICECandidate(c webrtc.ICECandidateInit) error

	// OnLocalCandidate fires for every gathered candidate. Gathering
	// completion (pion's nil candidate) is not forwarded.
	OnLocalCandidate(f func(webrtc.ICECandidateInit))
	OnRemoteTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))

	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// ReplaceTrack swaps the outgoing track of the given kind without
	// renegotiation.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	Senders() []*webrtc.RTPSender
	Close() error
}
