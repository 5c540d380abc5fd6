package etl

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"backoffice/internal/domain"
	"backoffice/internal/grid"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes records into a target system.

// SyncMode determines how records are written to the destination.
type SyncMode string

const (
	SyncReplace SyncMode = "replace" // delete all existing rows, insert fresh
	SyncAppend  SyncMode = "append"  // add rows without deleting existing
)

// Destination writes records to a target system.
type Destination interface {
	Write(ctx context.Context, targetID string, schema *Schema, records []Record, mode SyncMode) (int, error)
}

// DatasetRowStore is the slice of the dataset store the writer needs.
type DatasetRowStore interface {
	GetDataset(id string) (*domain.Dataset, error)
	UpdateDataset(d *domain.Dataset) error
	CreateRow(row *domain.DatasetRow) error
	DeleteRowsByDataset(datasetID string) error
}

// ── Dataset Destination ────────────────────────────────────

// DatasetWriter implements Destination for datasets. Record fields become
// row data keyed by field name, and missing fields become grid columns.
type DatasetWriter struct {
	Store DatasetRowStore
}

func (w *DatasetWriter) Write(ctx context.Context, targetID string, schema *Schema, records []Record, mode SyncMode) (int, error) {
	ds, err := w.Store.GetDataset(targetID)
	if err != nil {
		return 0, fmt.Errorf("load target: %w", err)
	}

	if mode == SyncReplace {
		if err := w.Store.DeleteRowsByDataset(targetID); err != nil {
			return 0, fmt.Errorf("clear target: %w", err)
		}
	}
	if cols, changed := mergeColumns(ds.Columns, schema); changed {
		ds.Columns = cols
		if err := w.Store.UpdateDataset(ds); err != nil {
			return 0, fmt.Errorf("update columns: %w", err)
		}
	}

	written := 0
	for i, rec := range records {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		row := &domain.DatasetRow{
			ID:        uuid.New().String(),
			DatasetID: targetID,
			Data:      rec.Data,
		}
		if mode == SyncReplace {
			row.SortOrder = i + 1
		}
		if err := w.Store.CreateRow(row); err != nil {
			return written, fmt.Errorf("create row %d: %w", i, err)
		}
		written++
	}

	return written, nil
}

// mergeColumns appends a column for every schema field the dataset does not
// declare yet. Existing declarations are kept as they are.
func mergeColumns(existing []grid.Column, schema *Schema) ([]grid.Column, bool) {
	if schema == nil {
		return existing, false
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Key] = true
	}
	cols := existing
	changed := false
	for _, f := range schema.Fields {
		if have[f.Name] {
			continue
		}
		have[f.Name] = true
		cols = append(cols, grid.Column{
			Key:        f.Name,
			Type:       mapFieldType(f.Type),
			Sortable:   true,
			Filterable: true,
		})
		changed = true
	}
	return cols, changed
}

// mapFieldType converts ETL field types to grid column types.
func mapFieldType(t string) grid.ColumnType {
	switch t {
	case "number":
		return grid.TypeNumber
	case "boolean":
		return grid.TypeBoolean
	case "datetime", "date":
		return grid.TypeDate
	default:
		return grid.TypeString
	}
}
