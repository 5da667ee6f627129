package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Primary   = lipgloss.Color("#22d3ee") // Cyan accent
	Secondary = lipgloss.Color("#7C3AED") // Violet
	Success   = lipgloss.Color("#10B981") // Emerald
	Error     = lipgloss.Color("#EF4444") // Red
	Muted     = lipgloss.Color("#6B7280") // Gray
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

// Summary table cells
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = TableRowStyle.Foreground(lipgloss.Color("245"))
)

// Live call view
var (
	CallStateStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	ToggleOnStyle  = lipgloss.NewStyle().Foreground(Success)
	ToggleOffStyle = lipgloss.NewStyle().Foreground(Error)
	KeyStyle       = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconInfo    = "ℹ️"
	IconCall    = "📞"
	IconPeer    = "👤"
	IconConnect = "🔌"
	IconMic     = "🎙️"
	IconVideo   = "🎥"
	IconTime    = "⏱️"
	IconCopy    = "📋"
	IconWeb     = "🌐"
)

// PrintError writes msg in the error style to stderr.
func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}
