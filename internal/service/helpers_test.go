package service_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// env wires the services over a fresh SQLite database.
type env struct {
	db       *storage.DB
	emitter  *service.MockEmitter
	datasets *service.DatasetService
	views    *storage.GridViewStore
	exports  *storage.ExportStore
	etlStore *storage.ETLStore
	dir      string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "backoffice.db"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:       db,
		emitter:  &service.MockEmitter{},
		views:    storage.NewGridViewStore(db),
		exports:  storage.NewExportStore(db),
		etlStore: storage.NewETLStore(db),
		dir:      dir,
	}
	e.datasets = service.NewDatasetService(storage.NewDatasetStore(db), e.views, e.emitter, nil)
	return e
}

func (e *env) gridService(db *service.DatabaseService) *service.GridService {
	return service.NewGridService(e.datasets, db, e.views, e.exports, e.emitter, nil, service.GridOptions{
		PageSize:  2,
		ExportDir: filepath.Join(e.dir, "exports"),
		Now:       func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
	})
}

// seedClients creates a client dataset with three rows and returns it.
func (e *env) seedClients(t *testing.T) *domain.Dataset {
	t.Helper()
	d, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Clients", Kind: domain.KindClient})
	require.NoError(t, err)

	for _, data := range []map[string]any{
		{"name": "Acme", "email": "ops@acme.test", "balance": 1200.5, "address": map[string]any{"city": "Lisbon"}, "active": true},
		{"name": "Borealis", "email": "ap@borealis.test", "balance": -40, "address": map[string]any{"city": "Oslo"}, "active": false},
		{"name": "Cobalt", "email": "hi@cobalt.test", "balance": 310, "address": map[string]any{"city": "Lisbon"}, "active": true},
	} {
		_, err := e.datasets.CreateRow(t.Context(), d.ID, data)
		require.NoError(t, err)
	}
	return d
}

func names(rows []grid.ViewRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = grid.Stringify(r.Row["name"])
	}
	return out
}
