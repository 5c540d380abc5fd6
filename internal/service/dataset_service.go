package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/logging"
	"backoffice/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Dataset Service — datasets, their rows and saved views
// ─────────────────────────────────────────────────────────────

// DatasetService manages datasets and their rows.
type DatasetService struct {
	store   domain.DatasetStore
	views   domain.GridViewStore
	emitter EventEmitter
	logger  *zap.Logger
}

// NewDatasetService creates a DatasetService.
func NewDatasetService(store domain.DatasetStore, views domain.GridViewStore, emitter EventEmitter, logger *zap.Logger) *DatasetService {
	return &DatasetService{
		store:   store,
		views:   views,
		emitter: orNop(emitter),
		logger:  logging.OrNop(logger),
	}
}

// CreateDatasetInput is the service-layer DTO for new datasets.
type CreateDatasetInput struct {
	Name    string             `json:"name"`
	Kind    domain.DatasetKind `json:"kind"`
	Columns []grid.Column      `json:"columns,omitempty"`
}

// ── Dataset CRUD ───────────────────────────────────────────

// CreateDataset creates a dataset. Without explicit columns it starts with
// the built-in columns of its kind.
func (s *DatasetService) CreateDataset(input CreateDatasetInput) (*domain.Dataset, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("dataset name is required")
	}
	kind := input.Kind
	if kind == "" {
		kind = domain.KindCustom
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown dataset kind: %s", kind)
	}
	cols := input.Columns
	if len(cols) == 0 {
		cols = domain.DefaultColumns(kind)
	}
	if err := ValidateColumns(cols); err != nil {
		return nil, err
	}

	d := &domain.Dataset{
		ID:      uuid.New().String(),
		Name:    input.Name,
		Kind:    kind,
		Columns: cols,
	}
	if err := s.store.CreateDataset(d); err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	s.logger.Info("dataset created", zap.String("datasetId", d.ID), zap.String("kind", string(kind)))
	return d, nil
}

func (s *DatasetService) GetDataset(id string) (*domain.Dataset, error) {
	return s.store.GetDataset(id)
}

func (s *DatasetService) ListDatasets() ([]domain.Dataset, error) {
	return s.store.ListDatasets()
}

// FindDataset resolves a dataset by id, then by case-insensitive name.
func (s *DatasetService) FindDataset(ref string) (*domain.Dataset, error) {
	if d, err := s.store.GetDataset(ref); err == nil {
		return d, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	all, err := s.store.ListDatasets()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if strings.EqualFold(all[i].Name, ref) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("dataset %w: %s", storage.ErrNotFound, ref)
}

func (s *DatasetService) RenameDataset(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("dataset name is required")
	}
	d, err := s.store.GetDataset(id)
	if err != nil {
		return err
	}
	d.Name = name
	return s.store.UpdateDataset(d)
}

// UpdateColumns replaces the column declarations. The saved view is dropped
// because its visible columns and filters may reference removed keys.
func (s *DatasetService) UpdateColumns(id string, cols []grid.Column) error {
	if err := ValidateColumns(cols); err != nil {
		return err
	}
	d, err := s.store.GetDataset(id)
	if err != nil {
		return err
	}
	d.Columns = cols
	if err := s.store.UpdateDataset(d); err != nil {
		return err
	}
	if s.views != nil {
		if err := s.views.DeleteView(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("drop saved view: %w", err)
		}
	}
	return nil
}

func (s *DatasetService) DeleteDataset(id string) error {
	if err := s.store.DeleteDataset(id); err != nil {
		return err
	}
	s.logger.Info("dataset deleted", zap.String("datasetId", id))
	return nil
}

func (s *DatasetService) GetDatasetStats(id string) (*domain.DatasetStats, error) {
	return s.store.GetDatasetStats(id)
}

// ValidateColumns checks that every column has a parseable, unique key and a
// known type.
func ValidateColumns(cols []grid.Column) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if _, err := grid.ParsePath(c.Key); err != nil {
			return fmt.Errorf("column %q: %w", c.Key, err)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("column %q: unknown type %q", c.Key, c.Type)
		}
		if seen[c.Key] {
			return fmt.Errorf("duplicate column %q", c.Key)
		}
		seen[c.Key] = true
	}
	return nil
}

// ── Row CRUD ───────────────────────────────────────────────

func (s *DatasetService) CreateRow(ctx context.Context, datasetID string, data map[string]any) (*domain.DatasetRow, error) {
	if _, err := s.store.GetDataset(datasetID); err != nil {
		return nil, err
	}
	row := &domain.DatasetRow{
		ID:        uuid.New().String(),
		DatasetID: datasetID,
		Data:      stripID(data),
	}
	if err := s.store.CreateRow(row); err != nil {
		return nil, fmt.Errorf("create row: %w", err)
	}
	s.changed(ctx, datasetID, "create", row.ID)
	return row, nil
}

func (s *DatasetService) GetRow(rowID string) (*domain.DatasetRow, error) {
	return s.store.GetRow(rowID)
}

func (s *DatasetService) ListRows(datasetID string) ([]domain.DatasetRow, error) {
	return s.store.ListRows(datasetID)
}

// UpdateRow replaces a row's data.
func (s *DatasetService) UpdateRow(ctx context.Context, rowID string, data map[string]any) (*domain.DatasetRow, error) {
	row, err := s.store.GetRow(rowID)
	if err != nil {
		return nil, err
	}
	row.Data = stripID(data)
	if err := s.store.UpdateRow(row); err != nil {
		return nil, err
	}
	s.changed(ctx, row.DatasetID, "update", row.ID)
	return row, nil
}

// PatchRow sets individual values. Keys may be dotted paths; intermediate
// objects are created as needed. A nil value removes the key.
func (s *DatasetService) PatchRow(ctx context.Context, rowID string, patch map[string]any) (*domain.DatasetRow, error) {
	row, err := s.store.GetRow(rowID)
	if err != nil {
		return nil, err
	}
	if row.Data == nil {
		row.Data = map[string]any{}
	}
	for key, v := range patch {
		if err := setPath(row.Data, key, v); err != nil {
			return nil, err
		}
	}
	row.Data = stripID(row.Data)
	if err := s.store.UpdateRow(row); err != nil {
		return nil, err
	}
	s.changed(ctx, row.DatasetID, "update", row.ID)
	return row, nil
}

func (s *DatasetService) DeleteRow(ctx context.Context, rowID string) error {
	row, err := s.store.GetRow(rowID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRow(rowID); err != nil {
		return err
	}
	s.changed(ctx, row.DatasetID, "delete", rowID)
	return nil
}

// DuplicateRow copies a row and places the copy right after the original.
func (s *DatasetService) DuplicateRow(ctx context.Context, rowID string) (*domain.DatasetRow, error) {
	original, err := s.store.GetRow(rowID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListRows(original.DatasetID)
	if err != nil {
		return nil, err
	}

	dup := &domain.DatasetRow{
		ID:        uuid.New().String(),
		DatasetID: original.DatasetID,
		Data:      cloneData(original.Data),
	}
	if err := s.store.CreateRow(dup); err != nil {
		return nil, fmt.Errorf("duplicate row: %w", err)
	}

	order := make([]string, 0, len(rows)+1)
	for _, r := range rows {
		order = append(order, r.ID)
		if r.ID == original.ID {
			order = append(order, dup.ID)
		}
	}
	if err := s.store.ReorderRows(original.DatasetID, order); err != nil {
		return nil, fmt.Errorf("place duplicate: %w", err)
	}
	s.changed(ctx, original.DatasetID, "create", dup.ID)
	return dup, nil
}

func (s *DatasetService) ReorderRows(ctx context.Context, datasetID string, rowIDs []string) error {
	if err := s.store.ReorderRows(datasetID, rowIDs); err != nil {
		return err
	}
	s.changed(ctx, datasetID, "reorder", "")
	return nil
}

// RowMutation is one entry of a batch update.
type RowMutation struct {
	Type  string         `json:"type"` // "create" | "update" | "delete"
	RowID string         `json:"rowId,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// BatchResult counts the mutations of a batch that succeeded.
type BatchResult struct {
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

// BatchUpdateRows applies mutations in order. A failing mutation is reported
// and the batch continues; update data is merged like PatchRow.
func (s *DatasetService) BatchUpdateRows(ctx context.Context, datasetID string, mutations []RowMutation) (*BatchResult, error) {
	if _, err := s.store.GetDataset(datasetID); err != nil {
		return nil, err
	}
	res := &BatchResult{}
	for i, m := range mutations {
		err := s.applyMutation(datasetID, m)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("mutation %d (%s): %v", i, m.Type, err))
			continue
		}
		res.Applied++
	}
	if res.Applied > 0 {
		s.changed(ctx, datasetID, "batch", "")
	}
	return res, nil
}

func (s *DatasetService) applyMutation(datasetID string, m RowMutation) error {
	switch m.Type {
	case "create":
		return s.store.CreateRow(&domain.DatasetRow{
			ID:        uuid.New().String(),
			DatasetID: datasetID,
			Data:      stripID(m.Data),
		})
	case "update", "delete":
		row, err := s.store.GetRow(m.RowID)
		if err != nil {
			return err
		}
		if row.DatasetID != datasetID {
			return fmt.Errorf("row %s belongs to another dataset", m.RowID)
		}
		if m.Type == "delete" {
			return s.store.DeleteRow(m.RowID)
		}
		if row.Data == nil {
			row.Data = map[string]any{}
		}
		for key, v := range m.Data {
			if err := setPath(row.Data, key, v); err != nil {
				return err
			}
		}
		row.Data = stripID(row.Data)
		return s.store.UpdateRow(row)
	default:
		return fmt.Errorf("unknown mutation type: %s", m.Type)
	}
}

// ── Grid input ─────────────────────────────────────────────

// GridRows returns the dataset's rows as grid input, in stored order.
func (s *DatasetService) GridRows(datasetID string) ([]grid.Row, error) {
	rows, err := s.store.ListRows(datasetID)
	if err != nil {
		return nil, err
	}
	out := make([]grid.Row, len(rows))
	for i, r := range rows {
		out[i] = r.GridRow(grid.DefaultIDKey)
	}
	return out, nil
}

// SavedView returns the dataset's saved grid state, or nil when none exists.
func (s *DatasetService) SavedView(datasetID string) (*grid.State, error) {
	if s.views == nil {
		return nil, nil
	}
	v, err := s.views.GetView(datasetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v.State, nil
}

// DatasetGrid loads columns, rows and saved view for the dataset import
// source.
func (s *DatasetService) DatasetGrid(_ context.Context, datasetID string) ([]grid.Column, []grid.Row, *grid.State, error) {
	d, err := s.store.GetDataset(datasetID)
	if err != nil {
		return nil, nil, nil, err
	}
	rows, err := s.GridRows(datasetID)
	if err != nil {
		return nil, nil, nil, err
	}
	state, err := s.SavedView(datasetID)
	if err != nil {
		return nil, nil, nil, err
	}
	return d.Columns, rows, state, nil
}

// ── Helpers ────────────────────────────────────────────────

func (s *DatasetService) changed(ctx context.Context, datasetID, op, rowID string) {
	s.emitter.Emit(ctx, EventDatasetUpdated, map[string]string{
		"datasetId": datasetID,
		"op":        op,
		"rowId":     rowID,
	})
}

// stripID drops the grid's id key; the row id lives outside the data.
func stripID(data map[string]any) map[string]any {
	out := cloneData(data)
	delete(out, grid.DefaultIDKey)
	return out
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if m, ok := v.(map[string]any); ok {
			v = cloneData(m)
		}
		out[k] = v
	}
	return out
}

// setPath writes v at a dotted path inside data. A non-object value on the
// way is an error rather than being overwritten.
func setPath(data map[string]any, key string, v any) error {
	path, err := grid.ParsePath(key)
	if err != nil {
		return fmt.Errorf("patch key %q: %w", key, err)
	}
	cur := data
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("patch key %q: %q is not an object", key, seg)
		}
		cur = m
	}
	last := path[len(path)-1]
	if v == nil {
		delete(cur, last)
		return nil
	}
	cur[last] = v
	return nil
}
