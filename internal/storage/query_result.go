package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/domain"
)

// QueryResultStore manages cached query results in SQLite.
type QueryResultStore struct {
	db *DB
}

// NewQueryResultStore creates a new QueryResultStore.
func NewQueryResultStore(db *DB) *QueryResultStore {
	return &QueryResultStore{db: db}
}

var _ domain.QueryResultStore = (*QueryResultStore)(nil)

// UpsertResult inserts or replaces the cached result r.ID.
func (s *QueryResultStore) UpsertResult(r *domain.QueryResult) error {
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now()
	}

	_, err := s.db.Conn().Exec(
		`INSERT INTO query_results (id, cache_key, connection_id, query, columns_json, rows_json, total_rows, has_more, executed_at, duration_ms, error, is_write, affected_rows)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   query=excluded.query, columns_json=excluded.columns_json, rows_json=excluded.rows_json,
		   total_rows=excluded.total_rows, has_more=excluded.has_more, executed_at=excluded.executed_at,
		   duration_ms=excluded.duration_ms, error=excluded.error, is_write=excluded.is_write,
		   affected_rows=excluded.affected_rows`,
		r.ID, r.CacheKey, r.ConnectionID, r.Query, r.ColumnsJSON, r.RowsJSON, r.TotalRows, boolInt(r.HasMore),
		r.ExecutedAt, r.DurationMs, r.Error, boolInt(r.IsWrite), r.AffectedRows,
	)
	return err
}

// GetResult retrieves the latest cached result for cacheKey.
func (s *QueryResultStore) GetResult(cacheKey string) (*domain.QueryResult, error) {
	row := s.db.Conn().QueryRow(
		`SELECT id, cache_key, connection_id, query, columns_json, rows_json, total_rows, has_more,
		        executed_at, duration_ms, error, is_write, affected_rows
		 FROM query_results WHERE cache_key = ? ORDER BY executed_at DESC LIMIT 1`, cacheKey,
	)

	r := &domain.QueryResult{}
	var hasMore, isWrite int
	err := row.Scan(&r.ID, &r.CacheKey, &r.ConnectionID, &r.Query, &r.ColumnsJSON, &r.RowsJSON, &r.TotalRows,
		&hasMore, &r.ExecutedAt, &r.DurationMs, &r.Error, &isWrite, &r.AffectedRows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("query result", cacheKey)
	}
	if err != nil {
		return nil, fmt.Errorf("scan query result: %w", err)
	}
	r.HasMore = hasMore == 1
	r.IsWrite = isWrite == 1
	return r, nil
}

// DeleteResults removes all cached results for cacheKey.
func (s *QueryResultStore) DeleteResults(cacheKey string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM query_results WHERE cache_key = ?`, cacheKey)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
