package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"backoffice/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Streams records from a local CSV file, one line at a time.

// csvSampleRows bounds how many lines Discover reads to guess field types.
const csvSampleRows = 50

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ",", Help: "Single-character column separator; \\t for tabs"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true", Help: "First line holds column names"},
		},
	}
}

// csvCursor reads records lazily; the header is consumed on open.
type csvCursor struct {
	f       *os.File
	r       *csv.Reader
	headers []string
	first   []string // data line read while sizing a headerless file
}

func openCSV(cfg etl.SourceConfig) (*csvCursor, error) {
	path, _ := cfg["filePath"].(string)
	if path == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	switch delim, _ := cfg["delimiter"].(string); delim {
	case "":
	case `\t`, "tab":
		r.Comma = '\t'
	default:
		r.Comma = []rune(delim)[0]
	}

	line, err := r.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("empty csv file")
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	c := &csvCursor{f: f, r: r}
	if h, ok := cfg["hasHeader"].(string); ok && strings.EqualFold(h, "false") {
		c.headers = make([]string, len(line))
		for i := range c.headers {
			c.headers[i] = "col_" + strconv.Itoa(i+1)
		}
		c.first = line
	} else {
		c.headers = headerNames(line)
	}
	return c, nil
}

// next returns the following record, or io.EOF.
func (c *csvCursor) next() (map[string]any, error) {
	line := c.first
	c.first = nil
	if line == nil {
		var err error
		if line, err = c.r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, fmt.Errorf("parse csv: %w", err)
		}
	}
	data := make(map[string]any, len(c.headers))
	for i, h := range c.headers {
		if i < len(line) {
			data[h] = inferCSVValue(line[i])
		}
	}
	return data, nil
}

func (c *csvCursor) Close() error { return c.f.Close() }

// headerNames fills blank names and suffixes duplicates so every column
// keeps its own key.
func headerNames(line []string) []string {
	names := make([]string, len(line))
	seen := make(map[string]int, len(line))
	for i, h := range line {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = "col_" + strconv.Itoa(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h += "_" + strconv.Itoa(n)
		}
		names[i] = h
	}
	return names
}

func (s *csvFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	c, err := openCSV(cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	types := make(map[string]string, len(c.headers))
	for i := 0; i < csvSampleRows && len(types) < len(c.headers); i++ {
		data, err := c.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for k, v := range data {
			if _, ok := types[k]; !ok && v != nil {
				types[k] = inferType(v)
			}
		}
	}

	schema := &etl.Schema{Fields: make([]etl.Field, len(c.headers))}
	for i, h := range c.headers {
		typ := types[h]
		if typ == "" {
			typ = "text"
		}
		schema.Fields[i] = etl.Field{Name: h, Type: typ}
	}
	return schema, nil
}

func (s *csvFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		c, err := openCSV(cfg)
		if err != nil {
			errCh <- err
			return
		}
		defer c.Close()

		for {
			data, err := c.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			select {
			case out <- etl.Record{Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

// inferCSVValue turns a cell into a number, a bool or nil when it reads as
// one, and keeps it as text otherwise.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return s
}
