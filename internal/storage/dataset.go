package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/domain"
)

// DatasetStore implements domain.DatasetStore using SQLite. Columns and row
// data are stored as JSON text.
type DatasetStore struct {
	db *DB
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(db *DB) *DatasetStore {
	return &DatasetStore{db: db}
}

var _ domain.DatasetStore = (*DatasetStore)(nil)

// ── Dataset CRUD ───────────────────────────────────────────

func (s *DatasetStore) CreateDataset(d *domain.Dataset) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	cols, err := json.Marshal(d.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO datasets (id, name, kind, columns_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Kind, string(cols), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *DatasetStore) GetDataset(id string) (*domain.Dataset, error) {
	d := &domain.Dataset{}
	var cols string
	err := s.db.conn.QueryRow(
		`SELECT id, name, kind, columns_json, created_at, updated_at
		 FROM datasets WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Kind, &cols, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("dataset", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cols), &d.Columns); err != nil {
		return nil, fmt.Errorf("decode columns of %s: %w", id, err)
	}
	return d, nil
}

func (s *DatasetStore) ListDatasets() ([]domain.Dataset, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, name, kind, columns_json, created_at, updated_at
		 FROM datasets ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Dataset
	for rows.Next() {
		d := domain.Dataset{}
		var cols string
		if err := rows.Scan(&d.ID, &d.Name, &d.Kind, &cols, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cols), &d.Columns); err != nil {
			return nil, fmt.Errorf("decode columns of %s: %w", d.ID, err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *DatasetStore) UpdateDataset(d *domain.Dataset) error {
	d.UpdatedAt = time.Now()
	cols, err := json.Marshal(d.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	res, err := s.db.conn.Exec(
		`UPDATE datasets SET name = ?, kind = ?, columns_json = ?, updated_at = ?
		 WHERE id = ?`,
		d.Name, d.Kind, string(cols), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "dataset", d.ID)
}

// DeleteDataset removes the dataset with its rows and saved view.
func (s *DatasetStore) DeleteDataset(id string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM dataset_rows WHERE dataset_id = ?`,
		`DELETE FROM grid_views WHERE dataset_id = ?`,
		`DELETE FROM datasets WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetDatasetStats returns row count and last update time for a dataset.
func (s *DatasetStore) GetDatasetStats(datasetID string) (*domain.DatasetStats, error) {
	var count int
	var lastUpdated sql.NullString

	err := s.db.conn.QueryRow(
		`SELECT COUNT(*), MAX(updated_at) FROM dataset_rows WHERE dataset_id = ?`, datasetID,
	).Scan(&count, &lastUpdated)
	if err != nil {
		return nil, err
	}

	stats := &domain.DatasetStats{RowCount: count}
	if lastUpdated.Valid {
		stats.LastUpdated = parseSQLiteTime(lastUpdated.String)
	}
	return stats, nil
}

// ── Row CRUD ───────────────────────────────────────────────

func (s *DatasetStore) CreateRow(r *domain.DatasetRow) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	// Auto-assign sort_order to end
	if r.SortOrder == 0 {
		var maxOrder sql.NullInt64
		if err := s.db.conn.QueryRow(
			`SELECT MAX(sort_order) FROM dataset_rows WHERE dataset_id = ?`, r.DatasetID,
		).Scan(&maxOrder); err != nil {
			return err
		}
		r.SortOrder = int(maxOrder.Int64) + 1
	}

	data, err := encodeRowData(r.Data)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO dataset_rows (id, dataset_id, data_json, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.DatasetID, data, r.SortOrder, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *DatasetStore) GetRow(id string) (*domain.DatasetRow, error) {
	r := &domain.DatasetRow{}
	var data string
	err := s.db.conn.QueryRow(
		`SELECT id, dataset_id, data_json, sort_order, created_at, updated_at
		 FROM dataset_rows WHERE id = ?`, id,
	).Scan(&r.ID, &r.DatasetID, &data, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("row", id)
	}
	if err != nil {
		return nil, err
	}
	if r.Data, err = decodeRowData(data); err != nil {
		return nil, fmt.Errorf("row %s: %w", id, err)
	}
	return r, nil
}

func (s *DatasetStore) ListRows(datasetID string) ([]domain.DatasetRow, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, dataset_id, data_json, sort_order, created_at, updated_at
		 FROM dataset_rows WHERE dataset_id = ? ORDER BY sort_order ASC`, datasetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DatasetRow
	for rows.Next() {
		r := domain.DatasetRow{}
		var data string
		if err := rows.Scan(&r.ID, &r.DatasetID, &data, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.Data, err = decodeRowData(data); err != nil {
			return nil, fmt.Errorf("row %s: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *DatasetStore) UpdateRow(r *domain.DatasetRow) error {
	r.UpdatedAt = time.Now()
	data, err := encodeRowData(r.Data)
	if err != nil {
		return err
	}
	res, err := s.db.conn.Exec(
		`UPDATE dataset_rows SET data_json = ?, sort_order = ?, updated_at = ?
		 WHERE id = ?`,
		data, r.SortOrder, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "row", r.ID)
}

func (s *DatasetStore) DeleteRow(id string) error {
	res, err := s.db.conn.Exec(`DELETE FROM dataset_rows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "row", id)
}

func (s *DatasetStore) DeleteRowsByDataset(datasetID string) error {
	_, err := s.db.conn.Exec(`DELETE FROM dataset_rows WHERE dataset_id = ?`, datasetID)
	return err
}

func (s *DatasetStore) ReorderRows(datasetID string, rowIDs []string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE dataset_rows SET sort_order = ? WHERE id = ? AND dataset_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range rowIDs {
		if _, err := stmt.Exec(i+1, id, datasetID); err != nil {
			return fmt.Errorf("reorder row %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// ── Helpers ────────────────────────────────────────────────

func encodeRowData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode row data: %w", err)
	}
	return string(b), nil
}

func decodeRowData(s string) (map[string]any, error) {
	data := map[string]any{}
	if s == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("decode row data: %w", err)
	}
	return data, nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

// parseSQLiteTime reads the text form the driver writes for time.Time values
// when they come back through an aggregate.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
