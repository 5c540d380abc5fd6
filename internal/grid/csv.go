package grid

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// ExportFilename is the default download name for a CSV export taken at t.
func ExportFilename(t time.Time) string {
	return "data-export-" + t.UTC().Format("2006-01-02T15:04:05.000Z") + ".csv"
}

// WriteCSV writes a header of display names followed by one line per row of
// formatted cells. Quoting follows encoding/csv: fields holding a comma, a
// quote or a line break, or starting with a space, are quoted and embedded
// quotes are doubled.
func WriteCSV(w io.Writer, columns []Column, rows []Row, f *Formatter) error {
	if f == nil {
		f = NewFormatter(DefaultLocale, "")
	}
	cw := csv.NewWriter(w)

	record := make([]string, len(columns))
	for i, c := range columns {
		record[i] = c.Header()
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	paths := make([]Path, len(columns))
	for i, c := range columns {
		paths[i], _ = ParsePath(c.Key)
	}
	for n, row := range rows {
		for i, c := range columns {
			v, _ := Lookup(row, paths[i])
			record[i] = f.Format(v, c.Type)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", n, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
