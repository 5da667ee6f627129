// Package media feeds local tracks from IVF and Ogg files and records
// remote tracks back to disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	streamID   = "warpcall"
	oggPageDur = 20 * time.Millisecond
	opusRate   = 48000
	fourCCVP8  = "VP80"
)

var ErrUnsupported = errors.New("unsupported media file")

// Options select the files to stream. Either path may be empty.
type Options struct {
	AudioPath string // Ogg/Opus
	VideoPath string // IVF/VP8
	// Loop restarts a file from the beginning when it ends.
	Loop   bool
	Logger *slog.Logger
}

// Replacer swaps the outgoing track of one kind on a live connection.
type Replacer interface {
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
}

// LocalTracks owns the local audio and video tracks of a call.
type LocalTracks struct {
	log  *slog.Logger
	loop bool

	audioOn atomic.Bool
	videoOn atomic.Bool

	mu      sync.Mutex
	sources map[webrtc.RTPCodecType]*source
	stopped bool
}

type source struct {
	track  *webrtc.TrackLocalStaticSample
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Open validates the files and creates their tracks. Streaming starts with
// Start.
func Open(opts Options) (*LocalTracks, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &LocalTracks{
		log:     logger,
		loop:    opts.Loop,
		sources: make(map[webrtc.RTPCodecType]*source),
	}
	l.audioOn.Store(true)
	l.videoOn.Store(true)

	if opts.AudioPath != "" {
		src, err := newSource(webrtc.RTPCodecTypeAudio, opts.AudioPath)
		if err != nil {
			return nil, err
		}
		l.sources[webrtc.RTPCodecTypeAudio] = src
	}
	if opts.VideoPath != "" {
		src, err := newSource(webrtc.RTPCodecTypeVideo, opts.VideoPath)
		if err != nil {
			return nil, err
		}
		l.sources[webrtc.RTPCodecTypeVideo] = src
	}
	return l, nil
}

func newSource(kind webrtc.RTPCodecType, path string) (*source, error) {
	if err := checkContainer(kind, path); err != nil {
		return nil, err
	}

	var codec webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 2}
	case webrtc.RTPCodecTypeVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupported, kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(codec, kind.String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &source{track: track, path: path}, nil
}

// checkContainer checks that path holds the container expected for kind.
func checkContainer(kind webrtc.RTPCodecType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch kind {
	case webrtc.RTPCodecTypeVideo:
		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		}
		if header.FourCC != fourCCVP8 {
			return fmt.Errorf("%w: %s: codec %q, want VP8", ErrUnsupported, path, header.FourCC)
		}
	case webrtc.RTPCodecTypeAudio:
		if _, _, err := oggreader.NewWith(f); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		}
	}
	return nil
}

// Tracks returns the tracks to add to the peer connection.
func (l *LocalTracks) Tracks() []webrtc.TrackLocal {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if src, ok := l.sources[kind]; ok {
			out = append(out, src.track)
		}
	}
	return out
}

// Start begins streaming every source. It is a no-op once stopped.
func (l *LocalTracks) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	for kind, src := range l.sources {
		if src.cancel == nil {
			l.run(kind, src)
		}
	}
}

func (l *LocalTracks) run(kind webrtc.RTPCodecType, src *source) {
	ctx, cancel := context.WithCancel(context.Background())
	src.cancel = cancel
	src.done = make(chan struct{})

	enabled := &l.audioOn
	if kind == webrtc.RTPCodecTypeVideo {
		enabled = &l.videoOn
	}
	go func() {
		defer close(src.done)
		var err error
		if kind == webrtc.RTPCodecTypeVideo {
			err = streamIVF(ctx, src.path, src.track, enabled, l.loop)
		} else {
			err = streamOgg(ctx, src.path, src.track, enabled, l.loop)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			l.log.Warn("local track stopped", "kind", kind.String(), "path", src.path, "error", err)
		}
	}()
}

func (s *source) stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// SetAudioEnabled mutes or unmutes the outgoing audio. Samples read while
// muted are dropped.
func (l *LocalTracks) SetAudioEnabled(on bool) { l.audioOn.Store(on) }

// SetVideoEnabled hides or shows the outgoing video.
func (l *LocalTracks) SetVideoEnabled(on bool) { l.videoOn.Store(on) }

func (l *LocalTracks) AudioEnabled() bool { return l.audioOn.Load() }
func (l *LocalTracks) VideoEnabled() bool { return l.videoOn.Load() }

// Has reports whether a track of kind exists.
func (l *LocalTracks) Has(kind webrtc.RTPCodecType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sources[kind]
	return ok
}

// Replace switches the kind's source to path and swaps it on r, the way a
// device switch or screen share replaces a sender's track.
func (l *LocalTracks) Replace(r Replacer, kind webrtc.RTPCodecType, path string) error {
	next, err := newSource(kind, path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errors.New("local tracks stopped")
	}
	prev, ok := l.sources[kind]
	if !ok {
		return fmt.Errorf("no local %s track to replace", kind)
	}
	if err := r.ReplaceTrack(kind, next.track); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	prev.stop()
	l.sources[kind] = next
	l.run(kind, next)
	l.log.Info("replaced local track", "kind", kind.String(), "path", path)
	return nil
}

// Stop ends all streaming. It is safe to call more than once.
func (l *LocalTracks) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	for _, src := range l.sources {
		src.stop()
	}
}

func streamIVF(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample, enabled *atomic.Bool, loop bool) error {
	for {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return err
		}

		frameDur := time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
		if frameDur <= 0 {
			frameDur = 33 * time.Millisecond
		}
		err = pace(ctx, frameDur, func() error {
			frame, _, err := r.ParseNextFrame()
			if err != nil {
				return err
			}
			if !enabled.Load() {
				return nil
			}
			return track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDur})
		})
		f.Close()
		if !errors.Is(err, io.EOF) || !loop {
			return ignoreEOF(err)
		}
	}
}

func streamOgg(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample, enabled *atomic.Bool, loop bool) error {
	for {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return err
		}

		var lastGranule uint64
		err = pace(ctx, oggPageDur, func() error {
			page, header, err := r.ParseNextPage()
			if err != nil {
				return err
			}
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			if !enabled.Load() {
				return nil
			}
			dur := time.Duration(float64(samples)/opusRate*1000) * time.Millisecond
			return track.WriteSample(pionmedia.Sample{Data: page, Duration: dur})
		})
		f.Close()
		if !errors.Is(err, io.EOF) || !loop {
			return ignoreEOF(err)
		}
	}
}

// pace calls step once per interval until it fails or ctx ends.
func pace(ctx context.Context, interval time.Duration, step func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := step(); err != nil {
				return err
			}
		}
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
