package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// DatasetService tests
// ─────────────────────────────────────────────────────────────

func TestDatasetService_CreateDataset_DefaultColumns(t *testing.T) {
	e := newEnv(t)

	d, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Carriers", Kind: domain.KindTransport})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultColumns(domain.KindTransport), d.Columns)

	custom, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Scratch"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindCustom, custom.Kind)
	assert.Empty(t, custom.Columns)
}

func TestDatasetService_CreateDataset_Rejects(t *testing.T) {
	e := newEnv(t)

	_, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "  "})
	assert.Error(t, err)

	_, err = e.datasets.CreateDataset(service.CreateDatasetInput{Name: "x", Kind: "warehouse"})
	assert.Error(t, err)

	_, err = e.datasets.CreateDataset(service.CreateDatasetInput{Name: "x", Columns: []grid.Column{
		{Key: "a", Type: grid.TypeString},
		{Key: "a", Type: grid.TypeNumber},
	}})
	assert.Error(t, err, "duplicate keys")
}

func TestValidateColumns(t *testing.T) {
	assert.NoError(t, service.ValidateColumns([]grid.Column{{Key: "address.city", Type: grid.TypeString}}))
	assert.Error(t, service.ValidateColumns([]grid.Column{{Key: "", Type: grid.TypeString}}))
	assert.Error(t, service.ValidateColumns([]grid.Column{{Key: "a", Type: "money"}}))
	assert.Error(t, service.ValidateColumns([]grid.Column{{Key: "a..b", Type: grid.TypeString}}))
}

func TestDatasetService_FindDataset(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)

	byID, err := e.datasets.FindDataset(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, byID.ID)

	byName, err := e.datasets.FindDataset("clients")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byName.ID)

	_, err = e.datasets.FindDataset("suppliers")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDatasetService_RowLifecycle(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	ctx := t.Context()

	row, err := e.datasets.CreateRow(ctx, d.ID, map[string]any{"id": "ignored", "name": "Delta"})
	require.NoError(t, err)
	assert.NotContains(t, row.Data, "id")

	patched, err := e.datasets.PatchRow(ctx, row.ID, map[string]any{
		"address.city": "Porto",
		"balance":      12.0,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Porto"}, patched.Data["address"])

	patched, err = e.datasets.PatchRow(ctx, row.ID, map[string]any{"balance": nil})
	require.NoError(t, err)
	assert.NotContains(t, patched.Data, "balance")

	_, err = e.datasets.PatchRow(ctx, row.ID, map[string]any{"name.first": "x"})
	assert.Error(t, err, "cannot descend into a string")

	dup, err := e.datasets.DuplicateRow(ctx, row.ID)
	require.NoError(t, err)
	assert.NotEqual(t, row.ID, dup.ID)

	rows, err := e.datasets.ListRows(d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, row.ID, rows[3].ID)
	assert.Equal(t, dup.ID, rows[4].ID)

	require.NoError(t, e.datasets.DeleteRow(ctx, dup.ID))
	stats, err := e.datasets.GetDatasetStats(d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.RowCount)

	updates := e.emitter.Named(service.EventDatasetUpdated)
	assert.NotEmpty(t, updates)
}

func TestDatasetService_BatchUpdateRows(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	rows, err := e.datasets.ListRows(d.ID)
	require.NoError(t, err)

	res, err := e.datasets.BatchUpdateRows(t.Context(), d.ID, []service.RowMutation{
		{Type: "update", RowID: rows[0].ID, Data: map[string]any{"name": "Acme Ltd"}},
		{Type: "delete", RowID: rows[1].ID},
		{Type: "create", Data: map[string]any{"name": "Echo"}},
		{Type: "update", RowID: "missing", Data: map[string]any{"name": "?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Len(t, res.Errors, 1)

	after, err := e.datasets.ListRows(d.ID)
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

func TestDatasetService_UpdateColumnsDropsSavedView(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)

	require.NoError(t, e.views.UpsertView(&domain.GridView{DatasetID: d.ID, State: grid.State{Search: "acme", Page: 1, PageSize: 10}}))
	state, err := e.datasets.SavedView(d.ID)
	require.NoError(t, err)
	require.NotNil(t, state)

	cols := append(d.Columns, grid.Column{Key: "segment", Type: grid.TypeString, Filterable: true})
	require.NoError(t, e.datasets.UpdateColumns(d.ID, cols))

	state, err = e.datasets.SavedView(d.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDatasetService_DatasetGrid(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)

	cols, rows, state, err := e.datasets.DatasetGrid(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Columns, cols)
	assert.Len(t, rows, 3)
	assert.Nil(t, state)
	for _, r := range rows {
		assert.NotEmpty(t, r.ID(grid.DefaultIDKey))
	}
}
