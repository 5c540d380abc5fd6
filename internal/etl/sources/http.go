package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"backoffice/internal/etl"
	"backoffice/internal/grid"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches records from a REST endpoint, e.g. an ERP or carrier API.

var httpClient = &http.Client{Timeout: 30 * time.Second}

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch (e.g. https://erp.example.com/api/clients)"},
			{Key: "method", Label: "Method", Type: "select", Required: false, Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Required: false, Help: "JSON object of headers (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "textarea", Required: false, Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dotted path to the array in the response (e.g. data.items)"},
		},
	}
}

func (s *httpSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	// Fetch a small sample to discover schema.
	records, err := fetchHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return inferSchema(records), nil
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := fetchHTTP(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func fetchHTTP(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	method, _ := cfg["method"].(string)
	if method == "" {
		method = "GET"
	}

	var bodyReader io.Reader
	if body, ok := cfg["body"].(string); ok && body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Parse headers.
	if headersStr, ok := cfg["headers"].(string); ok && headersStr != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(headersStr), &headers); err == nil {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	// Parse JSON response.
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if dataPath, ok := cfg["dataPath"].(string); ok && dataPath != "" {
		if raw, err = extractPath(raw, dataPath); err != nil {
			return nil, err
		}
	}

	return toRecords(raw), nil
}

// extractPath walks a dotted path (object keys and array indexes) into a
// decoded JSON document.
func extractPath(raw any, dataPath string) (any, error) {
	p, err := grid.ParsePath(dataPath)
	if err != nil {
		return nil, err
	}
	v, found := grid.Lookup(grid.Row{"$": raw}, append(grid.Path{"$"}, p...))
	if !found {
		return nil, fmt.Errorf("invalid data path: %q not found", dataPath)
	}
	return v, nil
}

// toRecords converts a raw JSON value into a slice of Records. Nested
// objects stay nested so dotted column keys resolve against them.
func toRecords(raw any) []etl.Record {
	switch v := raw.(type) {
	case []any:
		records := make([]etl.Record, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				records = append(records, etl.Record{Data: m})
			}
		}
		return records
	case map[string]any:
		return []etl.Record{{Data: v}}
	default:
		return nil
	}
}

// inferSchema infers a Schema from a slice of Records.
func inferSchema(records []etl.Record) *etl.Schema {
	fieldSet := make(map[string]string) // name → type
	for _, rec := range records {
		for k, v := range rec.Data {
			if _, exists := fieldSet[k]; !exists {
				fieldSet[k] = inferType(v)
			}
		}
	}

	schema := &etl.Schema{}
	for _, name := range slices.Sorted(maps.Keys(fieldSet)) {
		schema.Fields = append(schema.Fields, etl.Field{Name: name, Type: fieldSet[name]})
	}
	return schema
}

func inferType(v any) string {
	if v == nil {
		return "text"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		if _, ok := grid.ParseDate(v.(string)); ok {
			return "datetime"
		}
		return "text"
	default:
		return "text"
	}
}
