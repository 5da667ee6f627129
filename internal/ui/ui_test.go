package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/store"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeControls struct {
	audio, video bool
}

func (f *fakeControls) SetAudioEnabled(on bool) { f.audio = on }
func (f *fakeControls) SetVideoEnabled(on bool) { f.video = on }
func (f *fakeControls) AudioEnabled() bool      { return f.audio }
func (f *fakeControls) VideoEnabled() bool      { return f.video }

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestCallModelKeys(t *testing.T) {
	controls := &fakeControls{audio: true, video: true}
	hungUp := false
	m := newCallModel("brave-otter", "caller", controls, func() { hungUp = true }, make(chan callUpdate))

	m.Update(key('m'))
	if controls.audio {
		t.Fatal("m should mute audio")
	}
	m.Update(key('m'))
	if !controls.audio {
		t.Fatal("second m should unmute audio")
	}
	m.Update(key('v'))
	if controls.video {
		t.Fatal("v should hide video")
	}

	_, cmd := m.Update(key('q'))
	if !hungUp {
		t.Fatal("q should hang up")
	}
	if cmd == nil {
		t.Fatal("q should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should return tea.Quit")
	}
	if m.View() != "" {
		t.Fatal("view should be empty after quitting")
	}
}

func TestCallModelWithoutControls(t *testing.T) {
	m := newCallModel("brave-otter", "callee", nil, nil, make(chan callUpdate))
	m.Update(key('m'))
	m.Update(key('v'))

	view := m.View()
	if strings.Contains(view, "mute") {
		t.Fatalf("media keys shown without controls:\n%s", view)
	}
	if !strings.Contains(view, "hang up") {
		t.Fatalf("hang up key missing:\n%s", view)
	}
}

func TestCallModelUpdates(t *testing.T) {
	m := newCallModel("brave-otter", "caller", &fakeControls{}, nil, make(chan callUpdate))

	m.Update(callUpdate{state: "Waiting for answer"})
	if !strings.Contains(m.View(), "Waiting for answer") {
		t.Fatal("state not rendered")
	}

	m.Update(callUpdate{state: "Connected", connected: true})
	if m.connectedAt.IsZero() {
		t.Fatal("connected time not recorded")
	}
	first := m.connectedAt
	m.Update(callUpdate{connected: true})
	if m.connectedAt != first {
		t.Fatal("connected time reset")
	}

	m.Update(callUpdate{track: "video/VP8"})
	if !strings.Contains(m.View(), "video/VP8") {
		t.Fatal("remote track not rendered")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{7 * time.Second, "0:07"},
		{12*time.Minute + 34*time.Second, "12:34"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCallSummaryView(t *testing.T) {
	view := CallSummaryView(CallSummary{
		CallID:    "brave-otter",
		Role:      "caller",
		Status:    "Ended",
		Connected: true,
		Duration:  "1:02",
		Ended:     "remote hang up",
		Records:   []RecordedFile{{Path: "rec/video.ivf", Size: 2048}},
	})
	for _, want := range []string{"brave-otter", "remote hang up", "rec/video.ivf", "2.00 KB"} {
		if !strings.Contains(view, want) {
			t.Errorf("summary missing %q:\n%s", want, view)
		}
	}
}

func TestRenderCallList(t *testing.T) {
	now := time.Now()
	var buf strings.Builder
	RenderCallList(&buf, []store.CallSummary{
		{ID: "brave-otter", CreatedAt: now.Add(-90 * time.Second), HasOffer: true, OfferCandidates: 3},
		{ID: "quiet-heron", CreatedAt: now, HasOffer: true, HasAnswer: true, AnswerCandidates: 2},
	}, now)

	out := buf.String()
	for _, want := range []string{"brave-otter", "quiet-heron", "1:30"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestSpinner(t *testing.T) {
	var buf safeBuffer
	sp := NewSimpleSpinner("Connecting...")
	sp.out = &buf
	sp.Start()
	sp.UpdateMessage("Still connecting...")
	time.Sleep(3 * sp.every)
	sp.Success("Connected")
	sp.Stop()

	out := buf.String()
	if !strings.Contains(out, "onnecting...") || !strings.HasSuffix(out, "Connected\n") {
		t.Fatalf("unexpected spinner output %q", out)
	}

	// Stop without Start must not block.
	NewConnectionSpinner("idle").Stop()
}

type safeBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
