package calibration

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Render prints the table with one row per entry; the zero index row is marked.
func (t *Table) Render(title string) string {
	w := table.NewWriter()
	w.SetTitle(title)
	w.AppendHeader(table.Row{"#", "Drive (us)", "Rate (ticks/s)", ""})
	for i := 0; i < t.Len(); i++ {
		e := t.Entries[i]
		mark := ""
		if i == t.ZeroIndex {
			mark = "zero"
		}
		w.AppendRow(table.Row{i, fmt.Sprintf("%+d", e.Drive), e.Rate, mark})
	}
	w.AppendFooter(table.Row{"", "", "entries", t.Len()})
	return w.Render()
}
