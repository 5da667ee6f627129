package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/session"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

const connectTimeout = 15 * time.Second

// peerFlags are shared by start and join.
type peerFlags struct {
	domain   string
	server   string
	iceURL   string
	stun     string
	turn     string
	turnUser string
	turnPass string
	relay    bool

	audio  string
	video  string
	loop   bool
	record string
}

func addPeerFlags(cmd *cobra.Command, f *peerFlags) {
	cmd.Flags().StringVarP(&f.domain, "domain", "d", "", "Custom domain")
	cmd.Flags().StringVar(&f.server, "server", "", "Signaling websocket URL (default wss://<domain>/ws)")
	cmd.Flags().StringVar(&f.iceURL, "ice-servers-url", "", "Fetch the ICE server list from this URL")
	cmd.Flags().StringVarP(&f.stun, "stun", "s", "", "Custom STUN server")
	cmd.Flags().StringVarP(&f.turn, "turn", "t", "", "Custom TURN server host")
	cmd.Flags().StringVarP(&f.turnUser, "turn-user", "u", "", "TURN username")
	cmd.Flags().StringVarP(&f.turnPass, "turn-pass", "p", "", "TURN password")
	cmd.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")

	cmd.Flags().StringVar(&f.audio, "audio", "", "Send audio from an Ogg/Opus file")
	cmd.Flags().StringVar(&f.video, "video", "", "Send video from an IVF/VP8 file")
	cmd.Flags().BoolVar(&f.loop, "loop", false, "Restart media files when they end")
	cmd.Flags().StringVar(&f.record, "record", "", "Save the peer's audio and video into this directory")
}

// CallContext holds everything one peer needs for a call.
type CallContext struct {
	Config   *config.Config
	Client   *signaling.Client
	Tracks   *media.LocalTracks
	Recorder *media.Recorder
	Coord    *session.Coordinator

	log          *slog.Logger
	remoteTracks chan string
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.ICEServersURL == "" && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// NewCallContext loads config, opens local media and connects to the
// signaling server.
func NewCallContext(ctx context.Context, f *peerFlags) (*CallContext, error) {
	cfg, err := LoadConfig(config.Options{
		Domain:        f.domain,
		ServerURL:     f.server,
		ICEServersURL: f.iceURL,
		STUNServer:    f.stun,
		TURNServer:    f.turn,
		TURNUser:      f.turnUser,
		TURNPass:      f.turnPass,
		ForceRelay:    f.relay,
	})
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	cc := &CallContext{
		Config:       cfg,
		log:          logger,
		remoteTracks: make(chan string, 8),
	}

	if f.audio != "" || f.video != "" {
		cc.Tracks, err = media.Open(media.Options{
			AudioPath: f.audio,
			VideoPath: f.video,
			Loop:      f.loop,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}

	if f.record != "" {
		if cc.Recorder, err = media.NewRecorder(f.record, logger); err != nil {
			cc.Close()
			return nil, err
		}
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	cc.Client = signaling.NewClient(cfg.ServerURL, logger)
	err = cc.Client.Connect(dialCtx)
	stopSpinner()
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	cc.Coord = session.New(cc.Client,
		session.PionEngines(engine.Options{ForceRelay: cfg.ForceRelay, Logger: logger}),
		session.WithLogger(logger),
		session.WithTracks(cc.Tracks),
		session.WithICEServers(cfg.ICEProvider()),
		session.WithOnRemoteTrack(cc.onRemoteTrack),
	)
	return cc, nil
}

func (cc *CallContext) onRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if cc.Recorder != nil {
		cc.Recorder.HandleTrack(track, receiver)
	} else {
		go drain(track)
	}
	select {
	case cc.remoteTracks <- fmt.Sprintf("%s %s", track.Kind(), track.Codec().MimeType):
	default:
	}
}

// drain reads and discards RTP so the receiver's buffers don't fill.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// Close hangs up, flushes recordings and disconnects, in that order: the
// hang-up deletes the call through the signaling connection.
func (cc *CallContext) Close() {
	if cc.Coord != nil {
		cc.Coord.Teardown()
		<-cc.Coord.Done()
	} else if cc.Tracks != nil {
		cc.Tracks.Stop()
	}
	if cc.Recorder != nil {
		cc.Recorder.Wait()
	}
	if cc.Client != nil {
		cc.Client.Close()
	}
}

// Run shows the call view until the call ends, then prints a summary.
func (cc *CallContext) Run(ctx context.Context) error {
	coord := cc.Coord

	var controls ui.Controls
	if cc.Tracks != nil {
		controls = cc.Tracks
	}
	view := ui.NewCallUI(coord.CallID(), coord.Role().String(), controls, coord.Teardown)
	view.Start()
	defer view.Stop()

	var connectedAt time.Time
	var abandoned bool
	ctxDone := ctx.Done()
	lost := cc.Client.Done()
	events := coord.Events()

	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.To {
			case session.Connected:
				connectedAt = ev.At
				view.SetConnected()
			case session.AwaitingRemoteDescription:
				view.SetState("Exchanging candidates...")
			case session.Closed:
				view.SetState("Hanging up...")
			}

		case desc := <-cc.remoteTracks:
			view.AddRemoteTrack(desc)

		case <-ctxDone:
			ctxDone = nil
			coord.Teardown()

		case <-lost:
			lost = nil
			if coord.State().Negotiating() {
				// The answer can no longer arrive.
				cc.log.Warn("signaling connection lost before the call connected")
				view.SetState("Signaling lost")
				abandoned = true
				coord.Teardown()
				continue
			}
			// Media keeps flowing peer to peer; only hang-up detection
			// through the store is gone.
			cc.log.Warn("signaling connection lost")
		}
	}
	view.Stop()

	cc.printSummary(connectedAt)
	if abandoned {
		return errors.New("signaling connection lost before the call connected")
	}
	if err := coord.Err(); err != nil && !errors.Is(err, session.ErrRemoteHangup) && !errors.Is(err, session.ErrDisconnected) {
		return err
	}
	return nil
}

func (cc *CallContext) printSummary(connectedAt time.Time) {
	coord := cc.Coord

	summary := ui.CallSummary{
		CallID:    coord.CallID(),
		Role:      coord.Role().String(),
		Status:    "Ended",
		Connected: !connectedAt.IsZero(),
		Duration:  "-",
	}
	if summary.Connected {
		summary.Duration = ui.FormatDuration(time.Since(connectedAt))
	}

	switch err := coord.Err(); {
	case err == nil:
		summary.Ended = "you"
	case errors.Is(err, session.ErrRemoteHangup):
		summary.Ended = "peer"
	case errors.Is(err, session.ErrDisconnected):
		summary.Ended = "connection lost"
	default:
		summary.Status = "Failed"
		summary.Ended = err.Error()
	}

	if cc.Recorder != nil {
		cc.Recorder.Wait()
		for _, path := range cc.Recorder.Files() {
			var size int64
			if fi, err := os.Stat(path); err == nil {
				size = fi.Size()
			}
			summary.Records = append(summary.Records, ui.RecordedFile{Path: path, Size: size})
		}
	}

	fmt.Println()
	ui.RenderCallSummary(summary)
}
