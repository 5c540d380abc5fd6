package domain

import (
	"time"

	"backoffice/internal/grid"
)

// GridView is the saved view state of a dataset's grid, restored when the
// dataset is opened again.
type GridView struct {
	DatasetID string     `json:"datasetId"`
	State     grid.State `json:"state"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// GridViewStore persists one view per dataset.
type GridViewStore interface {
	UpsertView(v *GridView) error
	GetView(datasetID string) (*GridView, error)
	DeleteView(datasetID string) error
}

// ExportRecord describes a CSV export written to disk.
type ExportRecord struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"datasetId"`
	FileName  string    `json:"fileName"`
	Path      string    `json:"path"`
	RowCount  int       `json:"rowCount"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExportStore records exports.
type ExportStore interface {
	CreateExport(e *ExportRecord) error
	ListExports(datasetID string) ([]ExportRecord, error)
}
