package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/domain"
	"backoffice/internal/etl"
	"backoffice/internal/grid"
	"backoffice/internal/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "test.db"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// ─────────────────────────────────────────────────────────────
// DatasetStore
// ─────────────────────────────────────────────────────────────

func TestDatasetStore_RoundTrip(t *testing.T) {
	s := storage.NewDatasetStore(openDB(t))

	d := &domain.Dataset{ID: "ds-1", Name: "Clients", Kind: domain.KindClient, Columns: domain.DefaultColumns(domain.KindClient)}
	require.NoError(t, s.CreateDataset(d))

	got, err := s.GetDataset("ds-1")
	require.NoError(t, err)
	assert.Equal(t, "Clients", got.Name)
	assert.Equal(t, d.Columns, got.Columns)

	got.Name = "Customers"
	require.NoError(t, s.UpdateDataset(got))

	list, err := s.ListDatasets()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Customers", list[0].Name)

	_, err = s.GetDataset("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdateDataset(&domain.Dataset{ID: "missing"}), storage.ErrNotFound)
}

func TestDatasetStore_Rows(t *testing.T) {
	s := storage.NewDatasetStore(openDB(t))
	require.NoError(t, s.CreateDataset(&domain.Dataset{ID: "ds", Name: "x", Kind: domain.KindCustom}))

	for i, name := range []string{"a", "b", "c"} {
		r := &domain.DatasetRow{ID: name, DatasetID: "ds", Data: map[string]any{"name": name, "n": i}}
		require.NoError(t, s.CreateRow(r))
		assert.Equal(t, i+1, r.SortOrder)
	}

	rows, err := s.ListRows("ds")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Data["name"])
	assert.Equal(t, float64(1), rows[1].Data["n"], "numbers decode as float64")

	require.NoError(t, s.ReorderRows("ds", []string{"c", "a", "b"}))
	rows, err = s.ListRows("ds")
	require.NoError(t, err)
	assert.Equal(t, "c", rows[0].ID)

	r, err := s.GetRow("b")
	require.NoError(t, err)
	r.Data["name"] = "bee"
	require.NoError(t, s.UpdateRow(r))
	r, err = s.GetRow("b")
	require.NoError(t, err)
	assert.Equal(t, "bee", r.Data["name"])

	stats, err := s.GetDatasetStats("ds")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowCount)
	assert.False(t, stats.LastUpdated.IsZero())

	require.NoError(t, s.DeleteRow("a"))
	assert.ErrorIs(t, s.DeleteRow("a"), storage.ErrNotFound)

	require.NoError(t, s.DeleteDataset("ds"))
	rows, err = s.ListRows("ds")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// ─────────────────────────────────────────────────────────────
// GridViewStore / ExportStore
// ─────────────────────────────────────────────────────────────

func TestGridViewStore_Upsert(t *testing.T) {
	s := storage.NewGridViewStore(openDB(t))

	_, err := s.GetView("ds")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	state := grid.State{
		VisibleColumns: []string{"name"},
		Filters:        grid.Filters{"balance": grid.Between(1, 5), "name": grid.Text("ac")},
		Sort:           &grid.SortDescriptor{Key: "name", Direction: grid.Desc},
		Page:           2,
		PageSize:       25,
	}
	require.NoError(t, s.UpsertView(&domain.GridView{DatasetID: "ds", State: state}))
	state.Search = "acme"
	require.NoError(t, s.UpsertView(&domain.GridView{DatasetID: "ds", State: state}))

	v, err := s.GetView("ds")
	require.NoError(t, err)
	assert.Equal(t, "acme", v.State.Search)
	assert.Equal(t, "ac", v.State.Filters["name"].Text)
	require.NotNil(t, v.State.Filters["balance"].Range)
	assert.Equal(t, 5.0, *v.State.Filters["balance"].Range.Max)
	assert.Equal(t, grid.Desc, v.State.Sort.Direction)
}

func TestExportStore_List(t *testing.T) {
	s := storage.NewExportStore(openDB(t))
	require.NoError(t, s.CreateExport(&domain.ExportRecord{DatasetID: "a", FileName: "one.csv", Path: "/tmp/one.csv", RowCount: 3}))
	require.NoError(t, s.CreateExport(&domain.ExportRecord{DatasetID: "b", FileName: "two.csv", Path: "/tmp/two.csv"}))

	all, err := s.ListExports("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := s.ListExports("a")
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, 3, onlyA[0].RowCount)
}

// ─────────────────────────────────────────────────────────────
// DBConnectionStore
// ─────────────────────────────────────────────────────────────

func TestDBConnectionStore_Find(t *testing.T) {
	db := openDB(t)
	s := storage.NewDBConnectionStore(db)
	for _, c := range []*domain.DatabaseConnection{
		{ID: "c1", Name: "Warehouse", Driver: domain.DatabaseDriverSQLite, Host: "/tmp/w.db"},
		{ID: "c2", Name: "crm", Driver: domain.DatabaseDriverPostgres, Host: "db", Port: 5432},
		{ID: "c3", Name: "CRM", Driver: domain.DatabaseDriverMySQL, Host: "db", Port: 3306},
	} {
		require.NoError(t, s.CreateConnection(c))
	}

	got, err := s.FindConnection("c2")
	require.NoError(t, err)
	assert.Equal(t, "crm", got.Name)

	got, err = s.FindConnection("warehouse")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	_, err = s.FindConnection("crm")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = s.FindConnection("nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.ListConnections()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestDBConnectionStore_DeleteDropsCachedResults(t *testing.T) {
	db := openDB(t)
	s := storage.NewDBConnectionStore(db)
	results := storage.NewQueryResultStore(db)
	require.NoError(t, s.CreateConnection(&domain.DatabaseConnection{ID: "c1", Name: "w", Driver: domain.DatabaseDriverSQLite, Host: "/tmp/w.db"}))
	require.NoError(t, results.UpsertResult(&domain.QueryResult{ID: "r1", CacheKey: "c1:abc", ConnectionID: "c1", Query: "SELECT 1"}))

	require.NoError(t, s.DeleteConnection("c1"))
	_, err := results.GetResult("c1:abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.DeleteConnection("c1"), storage.ErrNotFound)
}

// ─────────────────────────────────────────────────────────────
// ETLStore / ApprovalStore
// ─────────────────────────────────────────────────────────────

func TestETLStore_Jobs(t *testing.T) {
	s := storage.NewETLStore(openDB(t))

	job := &etl.SyncJob{
		Name:            "suppliers csv",
		SourceType:      "csv_file",
		SourceCfg:       etl.SourceConfig{"path": "/tmp/s.csv"},
		Transforms:      []etl.TransformConfig{{Type: "filter", Config: map[string]any{"field": "name", "op": "contains", "value": "a"}}},
		TargetDatasetID: "ds",
		SyncMode:        etl.SyncReplace,
		TriggerType:     "schedule",
		TriggerConfig:   "@hourly",
		Enabled:         true,
	}
	require.NoError(t, s.CreateJob(job))
	require.NotEmpty(t, job.ID)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/s.csv", got.SourceCfg["path"])
	require.Len(t, got.Transforms, 1)

	scheduled, err := s.ListEnabledScheduledJobs()
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)

	require.NoError(t, s.UpdateJobStatus(job.ID, "success", ""))
	require.NoError(t, s.CreateRunLog(&etl.SyncRunLog{JobID: job.ID, Status: "success", RowsRead: 4}))
	logs, err := s.ListRunLogs(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 4, logs[0].RowsRead)

	require.NoError(t, s.DeleteJob(job.ID))
	_, err = s.GetJob(job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApprovalStore_Resolve(t *testing.T) {
	db := openDB(t)
	s := storage.NewApprovalStore(db)
	require.NoError(t, s.CreateApproval(&storage.Approval{ID: "a1", Tool: "grid_delete_row", Description: "delete row r1"}))

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "grid_delete_row", pending[0].Tool)

	require.NoError(t, s.Resolve("a1", true))
	assert.Error(t, s.Resolve("a1", false), "already resolved")
	assert.ErrorIs(t, s.Resolve("nope", true), storage.ErrNotFound)

	pending, err = s.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	status, err := s.Status("a1")
	require.NoError(t, err)
	assert.Equal(t, storage.ApprovalApproved, status)

	require.NoError(t, s.DeleteApproval("a1"))
	_, err = s.Status("a1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
