package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// CallSummary is what the end-of-call table reports.
type CallSummary struct {
	CallID    string
	Role      string
	Status    string
	Connected bool
	Duration  string
	Ended     string
	Records   []RecordedFile
}

// RecordedFile is one remote track saved to disk.
type RecordedFile struct {
	Path string
	Size int64
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

func CallSummaryView(summary CallSummary) string {
	connected := "no"
	if summary.Connected {
		connected = "yes"
	}
	rows := [][]string{
		{"Call ID", summary.CallID},
		{"Role", summary.Role},
		{"Status", summary.Status},
		{"Connected", connected},
		{"Duration", summary.Duration},
	}
	if summary.Ended != "" {
		rows = append(rows, []string{"Ended by", summary.Ended})
	}
	for _, f := range summary.Records {
		rows = append(rows, []string{"Recording", fmt.Sprintf("%s (%s)", truncateString(f.Path, 50), formatBytes(f.Size))})
	}

	return newTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderCallSummary(summary CallSummary) {
	fmt.Println(CallSummaryView(summary))
}

type CallInfo struct {
	CallID      string
	CallLink    string
	JoinCommand string
}

func NewCallInfo(callID, callLink string) *CallInfo {
	return &CallInfo{
		CallID:      callID,
		CallLink:    callLink,
		JoinCommand: "warpcall join " + callID,
	}
}

func (c *CallInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Call Created!\n\n%s Call ID:    %s\n%s Call Link:  %s\n%s Join with:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(c.CallID),
		IconWeb, MutedStyle.Render(c.CallLink),
		IconCall, MutedStyle.Render(c.JoinCommand),
	)

	return boxStyle.Render(content)
}

func RenderCallInfo(callID, callLink string) {
	fmt.Println(NewCallInfo(callID, callLink).View())
}
