package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// rtpWriter is satisfied by both ivfwriter and oggwriter.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
	Close() error
}

// Recorder saves remote tracks into dir: VP8 video as IVF, Opus audio as
// Ogg. Other codecs are drained and discarded.
type Recorder struct {
	dir string
	log *slog.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	files []string
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{dir: dir, log: logger}, nil
}

// HandleTrack records track until it ends. It matches the engine's
// remote track callback and returns immediately.
func (r *Recorder) HandleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	mime := strings.ToLower(track.Codec().MimeType)
	name := fmt.Sprintf("%s-%s", track.Kind(), sanitize(track.ID()))

	var (
		w   rtpWriter
		err error
	)
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		name += ".ivf"
		w, err = ivfwriter.New(filepath.Join(r.dir, name))
	case strings.ToLower(webrtc.MimeTypeOpus):
		name += ".ogg"
		w, err = oggwriter.New(filepath.Join(r.dir, name), opusRate, 2)
	default:
		r.log.Warn("not recording unsupported codec", "mime", mime)
	}
	if err != nil {
		r.log.Error("open recording", "file", name, "error", err)
		w = nil
	}
	if w != nil {
		r.mu.Lock()
		r.files = append(r.files, filepath.Join(r.dir, name))
		r.mu.Unlock()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := copyTrack(track, w); err != nil {
			r.log.Warn("recording stopped", "file", name, "error", err)
		}
	}()
}

// copyTrack writes packets to w until the track ends. A nil w drains.
func copyTrack(track *webrtc.TrackRemote, w rtpWriter) error {
	if w != nil {
		defer w.Close()
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			return err
		}
	}
}

// Wait blocks until every recording has been flushed.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Files lists the recordings started so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func sanitize(s string) string {
	if s == "" {
		return "track"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
