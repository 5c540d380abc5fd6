package service_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"backoffice/internal/grid"
	"backoffice/internal/service"
)

// ─────────────────────────────────────────────────────────────
// GridService over datasets
// ─────────────────────────────────────────────────────────────

func TestGridService_OpenAndPage(t *testing.T) {
	e := newEnv(t)
	e.seedClients(t)
	svc := e.gridService(nil)

	info, err := svc.Open(t.Context(), "Clients")
	require.NoError(t, err)
	assert.Equal(t, 3, info.TotalRows)

	v, err := svc.View(info.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Borealis"}, names(v.Rows))
	assert.Equal(t, 2, v.TotalPages)

	page, err := svc.NextPage(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, page)
	v, _ = svc.View(info.ID)
	assert.Equal(t, []string{"Cobalt"}, names(v.Rows))

	page, err = svc.GotoPage(info.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	require.NoError(t, svc.SetPageSize(info.ID, 10))
	v, _ = svc.View(info.ID)
	assert.Len(t, v.Rows, 3)
	assert.Error(t, svc.SetPageSize(info.ID, 0))
}

func TestGridService_SearchSortFilter(t *testing.T) {
	e := newEnv(t)
	e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), "clients")
	require.NoError(t, err)
	require.NoError(t, svc.SetPageSize(info.ID, 10))

	require.NoError(t, svc.SetSearch(info.ID, "lisbon"))
	v, _ := svc.View(info.ID)
	assert.Equal(t, []string{"Acme", "Cobalt"}, names(v.Rows))

	require.NoError(t, svc.SetSearch(info.ID, ""))
	sort, err := svc.SetSort(info.ID, "balance")
	require.NoError(t, err)
	assert.Equal(t, &grid.SortDescriptor{Key: "balance", Direction: grid.Asc}, sort)
	v, _ = svc.View(info.ID)
	assert.Equal(t, []string{"Borealis", "Cobalt", "Acme"}, names(v.Rows))

	require.NoError(t, svc.SetFilter(info.ID, "balance", grid.AtLeast(0)))
	v, _ = svc.View(info.ID)
	assert.Equal(t, []string{"Cobalt", "Acme"}, names(v.Rows))

	_, err = svc.SetSort(info.ID, "taxId")
	assert.Error(t, err, "taxId is not sortable")
	assert.Error(t, svc.SetFilter(info.ID, "createdAt", grid.Text("2024")), "createdAt is not filterable")
	assert.Error(t, svc.ToggleColumn(info.ID, "nope"))

	require.NoError(t, svc.ClearFilters(info.ID))
	require.NoError(t, svc.ClearSort(info.ID))
	v, _ = svc.View(info.ID)
	assert.Equal(t, 3, v.TotalRows)
	assert.Nil(t, v.Sort)
}

func TestGridService_PersistsAndRestoresView(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)

	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ToggleColumn(info.ID, "email"))
	require.NoError(t, svc.SetSearch(info.ID, "lisbon"))
	_, err = svc.SetSort(info.ID, "name")
	require.NoError(t, err)
	require.NoError(t, svc.Close(info.ID))

	events := e.emitter.Named(service.EventGridStateChanged)
	require.NotEmpty(t, events)

	again, err := e.gridService(nil).Open(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "lisbon", again.State.Search)
	assert.NotContains(t, again.State.VisibleColumns, "email")
	require.NotNil(t, again.State.Sort)
	assert.Equal(t, "name", again.State.Sort.Key)
	assert.Equal(t, 2, again.TotalRows)

	_, err = svc.View(info.ID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestGridService_EditAndDelete(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)

	v, _ := svc.View(info.ID)
	acmeID := v.Rows[0].ID

	require.NoError(t, svc.Edit(t.Context(), info.ID, acmeID, map[string]any{"address.city": "Porto"}))
	v, _ = svc.View(info.ID)
	city, _ := grid.Lookup(v.Rows[0].Row, grid.Path{"address", "city"})
	assert.Equal(t, "Porto", city)

	stored, err := e.datasets.GetRow(grid.Stringify(acmeID))
	require.NoError(t, err)
	assert.Equal(t, "Porto", stored.Data["address"].(map[string]any)["city"])

	require.NoError(t, svc.Delete(t.Context(), info.ID, acmeID))
	got, _ := svc.Get(info.ID)
	assert.Equal(t, 2, got.TotalRows)

	assert.ErrorIs(t, svc.Delete(t.Context(), info.ID, acmeID), grid.ErrRowNotFound)
	assert.Error(t, svc.Edit(t.Context(), info.ID, v.Rows[1].ID, nil), "empty patch")
}

func TestGridService_RowClickEmits(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)

	v, _ := svc.View(info.ID)
	require.NoError(t, svc.RowClick(t.Context(), info.ID, v.Rows[1].ID))

	clicks := e.emitter.Named(service.EventGridRowClicked)
	require.Len(t, clicks, 1)
	payload := clicks[0].Data.(map[string]any)
	assert.Equal(t, "Borealis", payload["row"].(grid.Row)["name"])
}

func TestGridService_RefreshDataset(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetSearch(info.ID, "o"))

	_, err = e.datasets.CreateRow(t.Context(), d.ID, map[string]any{"name": "Dorado", "segment": "retail"})
	require.NoError(t, err)
	require.NoError(t, svc.RefreshDataset(t.Context(), d.ID))

	got, _ := svc.Get(info.ID)
	assert.Equal(t, 4, got.TotalRows)

	// A new column rebuilds the grid and keeps the view state.
	cols := append(d.Columns, grid.Column{Key: "segment", DisplayName: "Segment", Type: grid.TypeString, Filterable: true})
	require.NoError(t, e.datasets.UpdateColumns(d.ID, cols))
	require.NoError(t, svc.RefreshDataset(t.Context(), d.ID))

	// UpdateColumns dropped the saved view; the rebuild saves it again with
	// the new column shown.
	saved, err := e.views.GetView(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "o", saved.State.Search)
	assert.Contains(t, saved.State.VisibleColumns, "segment")

	require.NoError(t, svc.SetFilter(info.ID, "segment", grid.Text("ret")))

	v, _ := svc.View(info.ID)
	assert.Equal(t, []string{"Dorado"}, names(v.Rows))
	assert.Equal(t, "o", v.Search)
	assert.Equal(t, "Segment", v.Columns[len(v.Columns)-1].Header())
}

func TestGridService_RefreshDatasetKeepsHiddenColumns(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ToggleColumn(info.ID, "email"))
	_, err = svc.SetSort(info.ID, "balance")
	require.NoError(t, err)

	cols := append(d.Columns, grid.Column{Key: "segment", DisplayName: "Segment", Type: grid.TypeString})
	require.NoError(t, e.datasets.UpdateColumns(d.ID, cols))
	require.NoError(t, svc.RefreshDataset(t.Context(), d.ID))

	got, err := svc.Get(info.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.State.VisibleColumns, "email")
	assert.Contains(t, got.State.VisibleColumns, "segment")
	require.NotNil(t, got.State.Sort)
	assert.Equal(t, "balance", got.State.Sort.Key)
}

func TestGridService_ConcurrentTransitions(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)

	var g errgroup.Group
	for i := range 50 {
		g.Go(func() error { return svc.Reload(t.Context(), info.ID) })
		g.Go(func() error { return svc.SetSearch(info.ID, []string{"a", "o", ""}[i%3]) })
		g.Go(func() error {
			_, err := svc.SetSort(info.ID, "name")
			return err
		})
	}
	g.Go(func() error { return svc.RefreshDataset(t.Context(), d.ID) })
	require.NoError(t, g.Wait())

	got, err := svc.Get(info.ID)
	require.NoError(t, err)
	require.NotNil(t, got.State.Sort)
	assert.Equal(t, "name", got.State.Sort.Key)
	assert.NotEmpty(t, e.emitter.Named(service.EventGridStateChanged))
}

func TestGridService_PageSizeAgainstSavedView(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.State.PageSize, "configured size applies without a saved view")
	require.NoError(t, svc.SetPageSize(info.ID, 10))
	require.NoError(t, svc.Close(info.ID))

	small := service.NewGridService(e.datasets, nil, e.views, e.exports, e.emitter, nil, service.GridOptions{PageSize: 1})
	again, err := small.Open(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, again.State.PageSize, "the saved view wins over the configured default")

	// An explicit size replaces the saved one and is saved in turn.
	require.NoError(t, small.SetPageSize(again.ID, 1))
	v, err := small.View(again.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.PageSize)
	assert.Equal(t, 3, v.TotalPages)

	saved, err := e.views.GetView(d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.State.PageSize)
}

func TestGridService_Export(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetSearch(info.ID, "lisbon"))
	for _, key := range []string{"taxId", "email", "balance", "createdAt", "active"} {
		require.NoError(t, svc.ToggleColumn(info.ID, key))
	}

	rec, err := svc.Export(t.Context(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, "data-export-2026-03-14T09:30:00.000Z.csv", rec.FileName)
	assert.Equal(t, 2, rec.RowCount)
	assert.Equal(t, d.ID, rec.DatasetID)

	f, err := os.Open(rec.Path)
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	want := [][]string{
		{"Name", "City"},
		{"Acme", "Lisbon"},
		{"Cobalt", "Lisbon"},
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}

	fi, err := os.Stat(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), rec.Bytes)

	listed, err := e.exports.ListExports(d.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, e.emitter.Named(service.EventGridExported), 1)
}

func TestGridService_ExportSameInstantKeepsBoth(t *testing.T) {
	e := newEnv(t)
	d := e.seedClients(t)
	svc := e.gridService(nil)
	info, err := svc.Open(t.Context(), d.ID)
	require.NoError(t, err)

	first, err := svc.Export(t.Context(), info.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetSearch(info.ID, "lisbon"))
	second, err := svc.Export(t.Context(), info.ID)
	require.NoError(t, err)

	assert.Equal(t, "data-export-2026-03-14T09:30:00.000Z.csv", first.FileName)
	assert.Equal(t, "data-export-2026-03-14T09:30:00.000Z-2.csv", second.FileName)
	assert.NotEqual(t, first.Path, second.Path)

	for _, rec := range []struct {
		path string
		rows int
	}{{first.Path, 3}, {second.Path, 2}} {
		f, err := os.Open(rec.path)
		require.NoError(t, err)
		lines, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		assert.Len(t, lines, rec.rows+1, rec.path)
	}

	entries, err := os.ReadDir(filepath.Dir(first.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files are removed")
}

func TestGridService_UnknownSession(t *testing.T) {
	svc := newEnv(t).gridService(nil)

	_, err := svc.View("nope")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	assert.ErrorIs(t, svc.Close("nope"), service.ErrSessionNotFound)
	_, err = svc.Export(t.Context(), "nope")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = svc.OpenQuery(t.Context(), "conn", "SELECT 1", 0)
	assert.Error(t, err, "no database service")
}
