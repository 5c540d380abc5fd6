package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"backoffice/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads records from a JSON document or a JSON Lines file.

// jsonSampleRecords bounds how many records Discover reads.
const jsonSampleRecords = 50

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the .json or .jsonl file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dotted path to the array (e.g. data.items). Empty when the root is an array."},
			{Key: "format", Label: "Format", Type: "select", Options: []string{"json", "lines"}, Help: "lines reads one object per line; defaults from the file extension"},
		},
	}
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	var sample []etl.Record
	err := walkJSONFile(ctx, cfg, func(rec etl.Record) bool {
		sample = append(sample, rec)
		return len(sample) < jsonSampleRecords
	})
	if err != nil {
		return nil, err
	}
	return inferSchema(sample), nil
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		err := walkJSONFile(ctx, cfg, func(rec etl.Record) bool {
			select {
			case out <- rec:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// walkJSONFile calls fn for each record until fn returns false. Root arrays
// and JSON Lines are streamed; a dataPath needs the whole document.
func walkJSONFile(ctx context.Context, cfg etl.SourceConfig, fn func(etl.Record) bool) error {
	path, _ := cfg["filePath"].(string)
	if path == "" {
		return fmt.Errorf("filePath is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	format, _ := cfg["format"].(string)
	if format == "" && (strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, ".ndjson")) {
		format = "lines"
	}
	if format == "lines" {
		return walkJSONLines(ctx, f, fn)
	}

	if dataPath, _ := cfg["dataPath"].(string); dataPath != "" {
		var raw any
		if err := json.NewDecoder(f).Decode(&raw); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		if raw, err = extractPath(raw, dataPath); err != nil {
			return err
		}
		for _, rec := range toRecords(raw) {
			if !fn(rec) {
				return nil
			}
		}
		return nil
	}
	return walkJSONArray(ctx, json.NewDecoder(bufio.NewReader(f)), fn)
}

func walkJSONArray(ctx context.Context, dec *json.Decoder, fn func(etl.Record) bool) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if tok != json.Delim('[') {
		// A single object is one record.
		if tok != json.Delim('{') {
			return fmt.Errorf("parse json: root must be an array or object")
		}
		obj, err := decodeObjectRest(dec)
		if err != nil {
			return err
		}
		fn(etl.Record{Data: obj})
		return nil
	}

	for dec.More() {
		if ctx.Err() != nil {
			return nil
		}
		var item any
		if err := dec.Decode(&item); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if !fn(etl.Record{Data: m}) {
			return nil
		}
	}
	return nil
}

// decodeObjectRest decodes an object whose opening brace was already read.
func decodeObjectRest(dec *json.Decoder) (map[string]any, error) {
	obj := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		obj[key] = v
	}
	return obj, nil
}

func walkJSONLines(ctx context.Context, r io.Reader, fn func(etl.Record) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return fmt.Errorf("parse json line %d: %w", n, err)
		}
		if m != nil && !fn(etl.Record{Data: m}) {
			return nil
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read lines: %w", err)
	}
	return nil
}
