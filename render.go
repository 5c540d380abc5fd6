package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"backoffice/internal/grid"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	altStyle    = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

// renderTable draws headers and rows as a rounded lipgloss table.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 1:
				return altStyle
			default:
				return cellStyle
			}
		}).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	return t.String()
}

// renderView draws one grid page with a pagination footer.
func renderView(w io.Writer, v *grid.View) {
	headers := make([]string, len(v.Columns))
	for i, c := range v.Columns {
		headers[i] = c.Header()
	}
	rows := make([][]string, len(v.Rows))
	for i, r := range v.Rows {
		rows[i] = r.Cells
	}
	fmt.Fprintln(w, renderTable(headers, rows))

	footer := fmt.Sprintf("Page %d of %d · %s rows", v.Page, v.TotalPages, humanize.Comma(int64(v.TotalRows)))
	if v.TotalRows != v.SourceRows {
		footer += fmt.Sprintf(" (filtered from %s)", humanize.Comma(int64(v.SourceRows)))
	}
	if v.Sort != nil {
		footer += fmt.Sprintf(" · sorted by %s %s", v.Sort.Key, v.Sort.Direction)
	}
	fmt.Fprintln(w, footerStyle.Render(footer))
}
