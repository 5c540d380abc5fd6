package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sqlConnector is the shared implementation for MySQL, Postgres, and SQLite.
type sqlConnector struct {
	driverName string
	db         *sql.DB
	logger     *zap.Logger

	mu          sync.Mutex
	activeRows  *sql.Rows
	lastAccess  time.Time
	columns     []string
	columnTypes []string
	fetched     int
	lastTable   string
	lastPKs     []string
}

func newSQLConnector(driverName, dsn string, logger *zap.Logger) (*sqlConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{driverName: driverName, db: db, logger: logger}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// isReadQuery reports whether a statement returns rows.
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN", "PRAGMA", "VALUES"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func (c *sqlConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCursorLocked()

	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	if !isReadQuery(query) {
		return c.execWrite(ctx, query)
	}
	c.lastTable = extractTableName(query)
	// Keys are looked up before the cursor opens; SQLite would otherwise
	// contend for the single connection the cursor holds.
	c.lastPKs = c.detectPrimaryKeys(ctx, c.lastTable)
	return c.execRead(ctx, query, fetchSize)
}

func (c *sqlConnector) execWrite(ctx context.Context, query string) (*QueryPage, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	affected, _ := result.RowsAffected()
	c.logger.Debug("write executed", zap.Int64("affected", affected))
	return &QueryPage{IsWrite: true, AffectedRows: int(affected)}, nil
}

func (c *sqlConnector) execRead(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	// The cursor outlives this call, so its context must too.
	rows, err := c.db.QueryContext(context.WithoutCancel(ctx), query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	types := make([]string, len(cols))
	if cts, err := rows.ColumnTypes(); err == nil {
		for i, ct := range cts {
			types[i] = ct.DatabaseTypeName()
		}
	}

	// Keys missing from the projection cannot address a row.
	for _, pk := range c.lastPKs {
		if !slices.Contains(cols, pk) {
			c.lastPKs = nil
			break
		}
	}

	c.activeRows = rows
	c.columns = cols
	c.columnTypes = types
	c.fetched = 0
	c.lastAccess = time.Now()

	return c.fetchBatchLocked(fetchSize)
}

func (c *sqlConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeRows == nil {
		return nil, errors.New("no active cursor: execute a query first")
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	c.lastAccess = time.Now()
	return c.fetchBatchLocked(fetchSize)
}

// fetchBatchLocked reads up to fetchSize rows from the active cursor.
// Must be called while holding c.mu.
func (c *sqlConnector) fetchBatchLocked(fetchSize int) (*QueryPage, error) {
	var resultRows [][]any
	numCols := len(c.columns)

	for len(resultRows) < fetchSize && c.activeRows.Next() {
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := c.activeRows.Scan(ptrs...); err != nil {
			c.closeCursorLocked()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, numCols)
		for j, v := range values {
			row[j] = normalizeSQLValue(v)
		}
		resultRows = append(resultRows, row)
	}

	if err := c.activeRows.Err(); err != nil {
		c.closeCursorLocked()
		return nil, fmt.Errorf("iterate: %w", err)
	}

	c.fetched += len(resultRows)
	hasMore := len(resultRows) == fetchSize
	if !hasMore {
		c.closeCursorLocked()
	}

	return &QueryPage{
		Columns:      c.columns,
		ColumnTypes:  c.columnTypes,
		Rows:         resultRows,
		TotalFetched: c.fetched,
		HasMore:      hasMore,
		Table:        c.lastTable,
		PrimaryKeys:  c.lastPKs,
	}, nil
}

// extractTableName returns the first identifier after FROM, best effort.
func extractTableName(query string) string {
	upper := strings.ToUpper(query)
	idx := strings.Index(upper, "FROM ")
	if idx == -1 {
		return ""
	}
	fields := strings.Fields(query[idx+5:])
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimRight(fields[0], ";,)")
	return strings.Trim(name, "`\"'[]")
}

func (c *sqlConnector) detectPrimaryKeys(ctx context.Context, table string) []string {
	if table == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var pks []string
	switch c.driverName {
	case "sqlite":
		pks = c.sqlitePrimaryKeys(ctx, table)
		if len(pks) == 0 {
			pks = []string{"rowid"}
		}
	case "postgres":
		pks = c.queryNames(ctx,
			`SELECT kcu.column_name FROM information_schema.table_constraints tc
			 JOIN information_schema.key_column_usage kcu
			   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			 WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = $1
			 ORDER BY kcu.ordinal_position`, table)
	default:
		pks = c.queryNames(ctx,
			`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
			 WHERE TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY' AND TABLE_SCHEMA = DATABASE()
			 ORDER BY ORDINAL_POSITION`, table)
	}
	return pks
}

func (c *sqlConnector) sqlitePrimaryKeys(ctx context.Context, table string) []string {
	cols, err := c.sqliteTableInfo(ctx, table)
	if err != nil {
		return nil
	}
	var pks []string
	for _, col := range cols {
		if col.pk > 0 {
			pks = append(pks, col.name)
		}
	}
	return pks
}

type sqliteColumn struct {
	name, typ string
	pk        int
}

func (c *sqlConnector) sqliteTableInfo(ctx context.Context, table string) ([]sqliteColumn, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name, type, pk FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []sqliteColumn
	for rows.Next() {
		var col sqliteColumn
		if err := rows.Scan(&col.name, &col.typ, &col.pk); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// queryNames runs a single-column query and collects the strings.
func (c *sqlConnector) queryNames(ctx context.Context, query string, args ...any) []string {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		c.logger.Debug("metadata query failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

// normalizeSQLValue converts driver values to the plain types the grid
// formats: text for byte slices, everything else unchanged.
func normalizeSQLValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	default:
		return val
	}
}

func (c *sqlConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if c.driverName == "sqlite" {
		return c.introspectSQLite(ctx)
	}
	return c.introspectInfoSchema(ctx)
}

// introspectInfoSchema works for MySQL and Postgres via INFORMATION_SCHEMA.
func (c *sqlConnector) introspectInfoSchema(ctx context.Context) (*SchemaInfo, error) {
	tablesQuery := `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME`
	columnsQuery := `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_NAME = ? AND TABLE_SCHEMA = DATABASE() ORDER BY ORDINAL_POSITION`
	if c.driverName == "postgres" {
		tablesQuery = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() ORDER BY table_name`
		columnsQuery = `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_name = $1 AND table_schema = current_schema() ORDER BY ordinal_position`
	}

	tableNames := c.queryNames(ctx, tablesQuery)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		info := TableInfo{Name: tbl}
		rows, err := c.db.QueryContext(ctx, columnsQuery, tbl)
		if err == nil {
			for rows.Next() {
				var ci ColumnInfo
				if rows.Scan(&ci.Name, &ci.Type) == nil {
					info.Columns = append(info.Columns, ci)
				}
			}
			rows.Close()
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

func (c *sqlConnector) introspectSQLite(ctx context.Context) (*SchemaInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tableNames = append(tableNames, name)
		}
	}
	rows.Close()

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		info := TableInfo{Name: tbl}
		cols, err := c.sqliteTableInfo(ctx, tbl)
		if err == nil {
			for _, col := range cols {
				info.Columns = append(info.Columns, ColumnInfo{Name: col.name, Type: col.typ})
			}
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

func (c *sqlConnector) ApplyMutations(ctx context.Context, table string, mutations []Mutation) (*MutationResult, error) {
	if table == "" {
		return nil, errors.New("mutations need a table")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result := &MutationResult{}
	for _, m := range mutations {
		query, args, err := c.buildMutation(table, m)
		if err == nil && query != "" {
			_, err = tx.ExecContext(ctx, query, args...)
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Applied++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	c.logger.Info("mutations applied",
		zap.String("table", table), zap.Int("applied", result.Applied), zap.Int("failed", len(result.Errors)))
	return result, nil
}

// buildMutation renders one mutation as a parameterized statement. Columns
// are emitted in sorted order so the statement text is stable.
func (c *sqlConnector) buildMutation(table string, m Mutation) (string, []any, error) {
	if len(m.RowKey) == 0 {
		return "", nil, fmt.Errorf("%s without row key", m.Type)
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return c.placeholder(len(args))
	}

	var sets []string
	if m.Type == "update" {
		if len(m.Changes) == 0 {
			return "", nil, nil
		}
		for _, col := range slices.Sorted(maps.Keys(m.Changes)) {
			sets = append(sets, c.quoteIdent(col)+" = "+next(m.Changes[col]))
		}
	}
	var where []string
	for _, col := range slices.Sorted(maps.Keys(m.RowKey)) {
		where = append(where, c.quoteIdent(col)+" = "+next(m.RowKey[col]))
	}

	switch m.Type {
	case "update":
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			c.quoteIdent(table), strings.Join(sets, ", "), strings.Join(where, " AND ")), args, nil
	case "delete":
		return fmt.Sprintf("DELETE FROM %s WHERE %s",
			c.quoteIdent(table), strings.Join(where, " AND ")), args, nil
	default:
		return "", nil, fmt.Errorf("unknown mutation type: %s", m.Type)
	}
}

func (c *sqlConnector) placeholder(n int) string {
	if c.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (c *sqlConnector) quoteIdent(name string) string {
	if c.driverName == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *sqlConnector) Close() error {
	c.mu.Lock()
	c.closeCursorLocked()
	c.mu.Unlock()
	return c.db.Close()
}

func (c *sqlConnector) closeCursorLocked() {
	if c.activeRows != nil {
		c.activeRows.Close()
		c.activeRows = nil
	}
}
