package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Controls toggles the local media while the call view is up.
// media.LocalTracks implements it.
type Controls interface {
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
}

// TickMsg is sent periodically to refresh the elapsed time
type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// CallUI shows the live state of a call and maps keys to call controls.
type CallUI struct {
	program *tea.Program
	model   *callModel
	updates chan callUpdate
	wg      sync.WaitGroup
	stop    sync.Once
}

type callUpdate struct {
	state     string
	connected bool
	track     string
}

type callModel struct {
	callID   string
	role     string
	state    string
	tracks   []string
	controls Controls
	hangup   func()
	spinner  spinner.Model
	updates  chan callUpdate

	startTime   time.Time
	connectedAt time.Time
	quitting    bool
}

// NewCallUI creates the call view. controls may be nil when no local media
// is sent; hangup runs when the user presses q.
func NewCallUI(callID, role string, controls Controls, hangup func()) *CallUI {
	updates := make(chan callUpdate, 32)
	return &CallUI{
		model:   newCallModel(callID, role, controls, hangup, updates),
		updates: updates,
	}
}

func newCallModel(callID, role string, controls Controls, hangup func(), updates chan callUpdate) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &callModel{
		callID:    callID,
		role:      role,
		state:     "Connecting...",
		controls:  controls,
		hangup:    hangup,
		spinner:   s,
		updates:   updates,
		startTime: time.Now(),
	}
}

// Start starts the UI in a goroutine
func (ui *CallUI) Start() {
	// Default is inline mode without alt screen, so earlier output stays
	// visible.
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

func (ui *CallUI) send(u callUpdate) {
	select {
	case ui.updates <- u:
	default:
	}
}

// SetState sets the current state line
func (ui *CallUI) SetState(state string) {
	ui.send(callUpdate{state: state})
}

// SetConnected starts the call timer.
func (ui *CallUI) SetConnected() {
	ui.send(callUpdate{state: "Connected", connected: true})
}

// AddRemoteTrack lists a track received from the peer.
func (ui *CallUI) AddRemoteTrack(desc string) {
	ui.send(callUpdate{track: desc})
}

// Stop closes the view and waits for the terminal to be restored.
func (ui *CallUI) Stop() {
	ui.stop.Do(func() {
		if ui.program != nil {
			ui.program.Quit()
		}
		ui.wg.Wait()
	})
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates(), tick())
}

func (m *callModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "m":
			if m.controls != nil {
				m.controls.SetAudioEnabled(!m.controls.AudioEnabled())
			}
		case "v":
			if m.controls != nil {
				m.controls.SetVideoEnabled(!m.controls.VideoEnabled())
			}
		case "q", "ctrl+c":
			m.quitting = true
			if m.hangup != nil {
				m.hangup()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case TickMsg:
		if !m.quitting {
			cmds = append(cmds, tick())
		}

	case callUpdate:
		if msg.state != "" {
			m.state = msg.state
		}
		if msg.connected && m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}
		if msg.track != "" {
			m.tracks = append(m.tracks, msg.track)
		}
		cmds = append(cmds, m.listenForUpdates())
	}

	return m, tea.Batch(cmds...)
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s Call %s %s\n\n", IconCall, BoldStyle.Render(m.callID), MutedStyle.Render("("+m.role+")")))

	if m.connectedAt.IsZero() {
		b.WriteString(fmt.Sprintf("%s %s  %s\n", m.spinner.View(), CallStateStyle.Render(m.state),
			MutedStyle.Render(FormatDuration(time.Since(m.startTime)))))
	} else {
		b.WriteString(fmt.Sprintf("%s %s  %s %s\n", IconConnect, CallStateStyle.Render(m.state),
			IconTime, FormatDuration(time.Since(m.connectedAt))))
	}

	if m.controls != nil {
		b.WriteString(fmt.Sprintf("\n  %s Audio %s   %s Video %s\n",
			IconMic, toggle(m.controls.AudioEnabled()),
			IconVideo, toggle(m.controls.VideoEnabled())))
	}

	if len(m.tracks) > 0 {
		b.WriteString(fmt.Sprintf("\n  %s Receiving:\n", IconPeer))
		for _, t := range m.tracks {
			b.WriteString("    • " + t + "\n")
		}
	}

	var keys []string
	if m.controls != nil {
		keys = append(keys, KeyStyle.Render("m")+" mute", KeyStyle.Render("v")+" video")
	}
	keys = append(keys, KeyStyle.Render("q")+" hang up")
	b.WriteString("\n" + MutedStyle.Render(strings.Join(keys, "  ")))

	return b.String()
}

func toggle(on bool) string {
	if on {
		return ToggleOnStyle.Render("on")
	}
	return ToggleOffStyle.Render("off")
}
