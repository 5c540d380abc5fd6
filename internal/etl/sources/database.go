package sources

import (
	"context"
	"fmt"

	"backoffice/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads the result of a query against a saved external connection.

// QueryPage mirrors dbclient.QueryPage to avoid circular imports.
type QueryPage struct {
	Columns []string
	Rows    [][]any
	HasMore bool
}

// DBProvider runs queries on saved connections. The service layer implements
// it and injects it at startup.
type DBProvider interface {
	ExecuteETLQuery(ctx context.Context, connID, query string, fetchSize int) (*QueryPage, error)
	FetchMoreETLRows(ctx context.Context, connID string, fetchSize int) (*QueryPage, error)
}

var dbProvider DBProvider

// SetDBProvider is called at startup.
func SetDBProvider(p DBProvider) { dbProvider = p }

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connectionId", Label: "Connection", Type: "string", Required: true, Help: "ID of a saved database connection"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SQL query, or a MongoDB JSON command"},
		},
	}
}

func resolveDBConfig(cfg etl.SourceConfig) (string, string, error) {
	connID, _ := cfg["connectionId"].(string)
	query, _ := cfg["query"].(string)
	if connID == "" || query == "" {
		return "", "", fmt.Errorf("connectionId and query are required")
	}
	return connID, query, nil
}

func (s *databaseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	connID, query, err := resolveDBConfig(cfg)
	if err != nil {
		return nil, err
	}
	if dbProvider == nil {
		return nil, fmt.Errorf("database provider not initialized")
	}

	page, err := dbProvider.ExecuteETLQuery(ctx, connID, query, 1)
	if err != nil {
		return nil, err
	}

	schema := &etl.Schema{Fields: make([]etl.Field, len(page.Columns))}
	for i, col := range page.Columns {
		schema.Fields[i] = etl.Field{Name: col, Type: "text"}
	}
	return schema, nil
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		connID, query, err := resolveDBConfig(cfg)
		if err != nil {
			errCh <- err
			return
		}
		if dbProvider == nil {
			errCh <- fmt.Errorf("database provider not initialized")
			return
		}

		page, err := dbProvider.ExecuteETLQuery(ctx, connID, query, 500)
		if err != nil {
			errCh <- fmt.Errorf("execute: %w", err)
			return
		}

		if !emitPage(ctx, out, page) {
			return
		}

		for page.HasMore {
			page, err = dbProvider.FetchMoreETLRows(ctx, connID, 500)
			if err != nil {
				errCh <- fmt.Errorf("fetch more: %w", err)
				return
			}
			if !emitPage(ctx, out, page) {
				return
			}
		}
	}()

	return out, errCh
}

func emitPage(ctx context.Context, out chan<- etl.Record, page *QueryPage) bool {
	for _, row := range page.Rows {
		data := make(map[string]any, len(page.Columns))
		for i, col := range page.Columns {
			if i < len(row) {
				data[col] = row[i]
			}
		}
		select {
		case out <- etl.Record{Data: data}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
