package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// DefaultCandidatePoolSize pre-gathers candidates before the first offer.
const DefaultCandidatePoolSize = 10

// Options configure a pion-backed Engine.
type Options struct {
	ICEServers []webrtc.ICEServer
	// ForceRelay restricts ICE to TURN candidates. Relay is also chosen
	// automatically behind VPNs and carrier-grade NAT when a TURN server is
	// available.
	ForceRelay bool
	// DisconnectedTimeout is how long ICE may stay silent before the
	// connection reports disconnected. Zero uses 10s.
	DisconnectedTimeout time.Duration
	// IncludeLoopback gathers loopback host candidates so two peers on
	// one machine can connect without a network.
	IncludeLoopback bool
	Logger          *slog.Logger
}

type pionEngine struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu              sync.Mutex
	closed          bool
	onCandidate     func(webrtc.ICECandidateInit)
	onTrack         func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState         func(webrtc.PeerConnectionState)
	remoteDescIsSet bool
	sendersByKind   map[webrtc.RTPCodecType]*webrtc.RTPSender
}

var _ Engine = (*pionEngine)(nil)

// NewPion builds a peer connection with default codecs, the default
// interceptor chain plus periodic keyframe requests, and slog-backed pion
// logging.
func NewPion(opts Options) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	registry.Add(pli)

	disconnected := opts.DisconnectedTimeout
	if disconnected == 0 {
		disconnected = 10 * time.Second
	}
	se := webrtc.SettingEngine{LoggerFactory: logging.PionFactory(logger)}
	se.SetICETimeouts(disconnected, 3*disconnected, 2*time.Second)
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	policy := webrtc.ICETransportPolicyAll
	if hasTURN(opts.ICEServers) && (opts.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
		logger.Debug("forcing relay transport")
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:           opts.ICEServers,
		ICETransportPolicy:   policy,
		ICECandidatePoolSize: DefaultCandidatePoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	e := &pionEngine{
		pc:            pc,
		log:           logger,
		sendersByKind: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}
	pc.OnICECandidate(e.handleCandidate)
	pc.OnTrack(e.handleTrack)
	pc.OnConnectionStateChange(e.handleState)
	return e, nil
}

func hasTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

func (e *pionEngine) handleCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	e.mu.Lock()
	f := e.onCandidate
	e.mu.Unlock()
	if f != nil {
		f(c.ToJSON())
	}
}

func (e *pionEngine) handleTrack(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
	e.mu.Lock()
	f := e.onTrack
	e.mu.Unlock()
	if f != nil {
		f(t, r)
	}
}

func (e *pionEngine) handleState(s webrtc.PeerConnectionState) {
	e.mu.Lock()
	f := e.onState
	e.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (e *pionEngine) OnLocalCandidate(f func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = f
}

func (e *pionEngine) OnRemoteTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrack = f
}

func (e *pionEngine) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = f
}

func (e *pionEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *pionEngine) CreateOffer() (webrtc.SessionDescription, error) {
	if e.isClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if err := e.ensureReceivers(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return e.pc.CreateOffer(nil)
}

// ensureReceivers adds a recvonly transceiver for each media kind with no
// local track so the offer always asks for audio and video.
func (e *pionEngine) ensureReceivers() error {
	have := make(map[webrtc.RTPCodecType]bool)
	for _, t := range e.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s receiver: %w", kind, err)
		}
	}
	return nil
}

func (e *pionEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	if e.isClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return e.pc.CreateAnswer(nil)
}

func (e *pionEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.pc.SetLocalDescription(desc)
}

func (e *pionEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	e.mu.Lock()
	e.remoteDescIsSet = true
	e.mu.Unlock()
	return nil
}

func (e *pionEngine) RemoteDescriptionSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteDescIsSet
}

func (e *pionEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.pc.AddICECandidate(c)
}

func (e *pionEngine) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sendersByKind[track.Kind()] = sender
	e.mu.Unlock()

	// RTCP must be drained for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (e *pionEngine) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	e.mu.Lock()
	sender, ok := e.sendersByKind[kind]
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("no %s sender to replace", kind)
	}
	return sender.ReplaceTrack(track)
}

func (e *pionEngine) Senders() []*webrtc.RTPSender {
	return e.pc.GetSenders()
}

func (e *pionEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.onCandidate = nil
	e.onTrack = nil
	e.onState = nil
	e.mu.Unlock()

	e.log.Debug("closing peer connection")
	return e.pc.Close()
}
