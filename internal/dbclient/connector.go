package dbclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"backoffice/internal/domain"
)

// DefaultFetchSize is used when a caller passes a non-positive fetch size.
const DefaultFetchSize = 50

// QueryPage is a batch of rows fetched from a query cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	ColumnTypes  []string `json:"columnTypes,omitempty"` // driver type names, parallel to Columns
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"` // total rows fetched so far
	HasMore      bool     `json:"hasMore"`
	IsWrite      bool     `json:"isWrite"`
	AffectedRows int      `json:"affectedRows"`
	Table        string   `json:"table,omitempty"`       // source table of a read, best effort
	PrimaryKeys  []string `json:"primaryKeys,omitempty"` // key columns for edit/delete
}

// SchemaInfo describes the tables of a database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Mutation describes a single row-level change (update or delete).
type Mutation struct {
	Type    string         `json:"type"`    // "update" | "delete"
	RowKey  map[string]any `json:"rowKey"`  // PK column → value
	Changes map[string]any `json:"changes"` // column → new value (update only)
}

// MutationResult summarizes the outcome of a batch of mutations.
type MutationResult struct {
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

// Connector abstracts interaction with an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Execute runs a query and returns the first batch of rows.
	// Reads open a cursor; writes return the affected row count.
	Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error)

	// FetchMore continues reading from the open cursor.
	FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error)

	// Introspect lists tables and their columns.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// ApplyMutations executes a batch of row-level updates/deletes.
	ApplyMutations(ctx context.Context, table string, mutations []Mutation) (*MutationResult, error)

	// Close closes the connection and any open cursors.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password comes from the secret store, never from the connection row.
func NewConnector(conn *domain.DatabaseConnection, password string, logger *zap.Logger) (Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("connection", conn.Name), zap.String("driver", string(conn.Driver)))

	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLConnector("sqlite", buildSQLiteDSN(conn), logger)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password), logger)
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password), logger)
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}

// ReadAll executes a read and keeps fetching until the cursor is drained or
// limit rows were collected. A limit of zero or less means no limit.
func ReadAll(ctx context.Context, c Connector, query string, limit int) (*QueryPage, error) {
	size := DefaultFetchSize
	if limit > 0 && limit < size {
		size = limit
	}
	page, err := c.Execute(ctx, query, size)
	if err != nil {
		return nil, err
	}
	all := *page
	for all.HasMore && (limit <= 0 || len(all.Rows) < limit) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := c.FetchMore(ctx, size)
		if err != nil {
			return nil, fmt.Errorf("fetch more: %w", err)
		}
		all.Rows = append(all.Rows, next.Rows...)
		all.TotalFetched = next.TotalFetched
		all.HasMore = next.HasMore
		if len(next.Columns) > len(all.Columns) {
			all.Columns = next.Columns
		}
	}
	if limit > 0 && len(all.Rows) > limit {
		all.Rows = all.Rows[:limit]
		all.HasMore = true
	}
	return &all, nil
}
