package ui

import (
	"io"
	"time"

	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderCallList writes the operator view of active calls to w.
func RenderCallList(w io.Writer, calls []store.CallSummary, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}

	t.AppendHeader(table.Row{"#", "Call ID", "Age", "Offer", "Answer", "Caller ICE", "Callee ICE"})
	for i, c := range calls {
		t.AppendRow(table.Row{
			i + 1,
			c.ID,
			FormatDuration(now.Sub(c.CreatedAt)),
			yesNo(c.HasOffer),
			yesNo(c.HasAnswer),
			c.OfferCandidates,
			c.AnswerCandidates,
		})
	}
	t.AppendFooter(table.Row{"", "Total", len(calls)})
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
