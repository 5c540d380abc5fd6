package sources

import (
	"context"
	"fmt"

	"backoffice/internal/etl"
	"backoffice/internal/grid"
)

// ── Dataset Source ─────────────────────────────────────────
// Copies rows out of another dataset through its saved grid view, so an
// import sees exactly the filtered, searched and sorted rows a user sees.

// DatasetProvider loads a dataset's columns, rows and saved view state.
type DatasetProvider interface {
	DatasetGrid(ctx context.Context, datasetID string) ([]grid.Column, []grid.Row, *grid.State, error)
}

var datasetProvider DatasetProvider

// SetDatasetProvider is called at startup.
func SetDatasetProvider(p DatasetProvider) { datasetProvider = p }

type datasetSource struct{}

func init() { etl.RegisterSource(&datasetSource{}) }

func (s *datasetSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "dataset",
		Label: "Dataset View",
		ConfigFields: []etl.ConfigField{
			{Key: "datasetId", Label: "Dataset", Type: "string", Required: true, Help: "ID of the dataset to copy from"},
			{Key: "useView", Label: "Apply Saved View", Type: "select", Options: []string{"true", "false"}, Default: "true", Help: "Apply the dataset's saved filters, search and sort"},
		},
	}
}

func (s *datasetSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	cols, _, err := loadDatasetRows(ctx, cfg)
	if err != nil {
		return nil, err
	}
	schema := &etl.Schema{Fields: make([]etl.Field, len(cols))}
	for i, c := range cols {
		schema.Fields[i] = etl.Field{Name: c.Key, Type: fieldType(c.Type)}
	}
	return schema, nil
}

func (s *datasetSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		_, rows, err := loadDatasetRows(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		for _, row := range rows {
			data := make(map[string]any, len(row))
			for k, v := range row {
				if k != grid.DefaultIDKey {
					data[k] = v
				}
			}
			select {
			case out <- etl.Record{Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

// loadDatasetRows returns the dataset's rows after the saved view's
// filters, search and sort, across all pages.
func loadDatasetRows(ctx context.Context, cfg etl.SourceConfig) ([]grid.Column, []grid.Row, error) {
	id, _ := cfg["datasetId"].(string)
	if id == "" {
		return nil, nil, fmt.Errorf("datasetId is required")
	}
	if datasetProvider == nil {
		return nil, nil, fmt.Errorf("dataset provider not initialized")
	}
	cols, rows, state, err := datasetProvider.DatasetGrid(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if useView, _ := cfg["useView"].(string); useView == "false" || state == nil {
		return cols, rows, nil
	}

	g := grid.New(cols, grid.Options{})
	g.SetRows(rows)
	g.Restore(*state)
	return cols, g.Processed(), nil
}

func fieldType(t grid.ColumnType) string {
	switch t {
	case grid.TypeNumber:
		return "number"
	case grid.TypeBoolean:
		return "boolean"
	case grid.TypeDate:
		return "datetime"
	default:
		return "text"
	}
}
