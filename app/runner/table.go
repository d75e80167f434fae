package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// WriteTable prints a batch as an aligned plain-text table. Widths are
// measured in terminal cells so accented and wide source names line up.
func WriteTable(w io.Writer, batch Batch) error {
	rows := [][]string{{"SOURCE", "STATUS", "FOUND", "NEW", "SKIPPED", "TOTAL", "ERRORS", "DURATION"}}
	for _, r := range batch.Results {
		rows = append(rows, []string{
			r.Name,
			string(r.State),
			fmt.Sprint(r.EventsFound),
			fmt.Sprint(r.EventsNew),
			fmt.Sprint(r.EventsSkipped),
			fmt.Sprint(r.EventsTotal),
			fmt.Sprint(len(r.Errors)),
			fmt.Sprintf("%.2fs", r.DurationSeconds),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(sb.String(), " ")); err != nil {
			return err
		}
	}

	for _, r := range batch.Results {
		if r.FatalError != "" {
			if _, err := fmt.Fprintf(w, "%s: %s\n", r.Name, r.FatalError); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\nsources=%d new=%d errors=%d\n",
		batch.Summary.SourcesExecuted, batch.Summary.TotalNew, batch.Summary.TotalErrors)
	return err
}
