package domain

import (
	"time"

	"backoffice/internal/grid"
)

// DatasetKind identifies which back-office directory a dataset models.
type DatasetKind string

const (
	KindCompany       DatasetKind = "company"
	KindClient        DatasetKind = "client"
	KindSupplier      DatasetKind = "supplier"
	KindTransport     DatasetKind = "transport"
	KindSalesOrder    DatasetKind = "sales_order"
	KindPurchaseOrder DatasetKind = "purchase_order"
	KindInvoice       DatasetKind = "invoice"
	KindCustom        DatasetKind = "custom"
)

// Valid reports whether k is a known kind.
func (k DatasetKind) Valid() bool {
	switch k {
	case KindCompany, KindClient, KindSupplier, KindTransport,
		KindSalesOrder, KindPurchaseOrder, KindInvoice, KindCustom:
		return true
	}
	return false
}

// Dataset is a named table of rows with declared columns. The grid renders
// one dataset at a time.
type Dataset struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      DatasetKind   `json:"kind"`
	Columns   []grid.Column `json:"columns"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// DatasetRow is a single record. Data holds column values keyed by column
// key; nested objects are allowed for dotted keys.
type DatasetRow struct {
	ID        string         `json:"id"`
	DatasetID string         `json:"datasetId"`
	Data      map[string]any `json:"data"`
	SortOrder int            `json:"sortOrder"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// GridRow returns the row as grid input, with the row id under idKey.
func (r DatasetRow) GridRow(idKey string) grid.Row {
	if idKey == "" {
		idKey = grid.DefaultIDKey
	}
	out := make(grid.Row, len(r.Data)+1)
	for k, v := range r.Data {
		out[k] = v
	}
	out[idKey] = r.ID
	return out
}

// DatasetStats summarises a dataset's rows.
type DatasetStats struct {
	RowCount    int       `json:"rowCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DatasetStore manages CRUD for datasets and their rows.
type DatasetStore interface {
	CreateDataset(d *Dataset) error
	GetDataset(id string) (*Dataset, error)
	ListDatasets() ([]Dataset, error)
	UpdateDataset(d *Dataset) error
	DeleteDataset(id string) error
	GetDatasetStats(datasetID string) (*DatasetStats, error)

	CreateRow(row *DatasetRow) error
	GetRow(id string) (*DatasetRow, error)
	ListRows(datasetID string) ([]DatasetRow, error)
	UpdateRow(row *DatasetRow) error
	DeleteRow(id string) error
	DeleteRowsByDataset(datasetID string) error
	ReorderRows(datasetID string, rowIDs []string) error
}
