package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/domain"
)

// GridViewStore persists saved grid state per dataset.
type GridViewStore struct {
	db *DB
}

// NewGridViewStore creates a new GridViewStore.
func NewGridViewStore(db *DB) *GridViewStore {
	return &GridViewStore{db: db}
}

var _ domain.GridViewStore = (*GridViewStore)(nil)

// UpsertView inserts or replaces the view for v.DatasetID.
func (s *GridViewStore) UpsertView(v *domain.GridView) error {
	v.UpdatedAt = time.Now()
	state, err := json.Marshal(v.State)
	if err != nil {
		return fmt.Errorf("encode grid state: %w", err)
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO grid_views (dataset_id, state_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(dataset_id) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`,
		v.DatasetID, string(state), v.UpdatedAt,
	)
	return err
}

func (s *GridViewStore) GetView(datasetID string) (*domain.GridView, error) {
	v := &domain.GridView{}
	var state string
	err := s.db.conn.QueryRow(
		`SELECT dataset_id, state_json, updated_at FROM grid_views WHERE dataset_id = ?`, datasetID,
	).Scan(&v.DatasetID, &state, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("grid view", datasetID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &v.State); err != nil {
		return nil, fmt.Errorf("decode grid state of %s: %w", datasetID, err)
	}
	return v, nil
}

func (s *GridViewStore) DeleteView(datasetID string) error {
	_, err := s.db.conn.Exec(`DELETE FROM grid_views WHERE dataset_id = ?`, datasetID)
	return err
}

// ExportStore records CSV exports.
type ExportStore struct {
	db *DB
}

// NewExportStore creates a new ExportStore.
func NewExportStore(db *DB) *ExportStore {
	return &ExportStore{db: db}
}

var _ domain.ExportStore = (*ExportStore)(nil)

func (s *ExportStore) CreateExport(e *domain.ExportRecord) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO exports (id, dataset_id, file_name, path, row_count, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DatasetID, e.FileName, e.Path, e.RowCount, e.Bytes, e.CreatedAt,
	)
	return err
}

// ListExports returns a dataset's exports, newest first. An empty datasetID
// lists every export.
func (s *ExportStore) ListExports(datasetID string) ([]domain.ExportRecord, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, dataset_id, file_name, path, row_count, bytes, created_at
		 FROM exports WHERE ? = '' OR dataset_id = ? ORDER BY created_at DESC`,
		datasetID, datasetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExportRecord
	for rows.Next() {
		var e domain.ExportRecord
		if err := rows.Scan(&e.ID, &e.DatasetID, &e.FileName, &e.Path, &e.RowCount, &e.Bytes, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
