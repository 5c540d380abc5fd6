package service_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/grid"
	"backoffice/internal/secret"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// DatabaseService over an external SQLite file
// ─────────────────────────────────────────────────────────────

func newDatabaseService(t *testing.T, e *env) (*service.DatabaseService, string) {
	t.Helper()
	secrets, err := secret.NewFileStore(filepath.Join(e.dir, "secrets.json"))
	require.NoError(t, err)
	svc := service.NewDatabaseService(storage.NewDBConnectionStore(e.db), storage.NewQueryResultStore(e.db), secrets, nil)
	t.Cleanup(svc.Close)

	conn, err := svc.CreateConnection(service.CreateDBConnInput{
		Name:   "warehouse",
		Driver: "sqlite",
		Host:   filepath.Join(e.dir, "warehouse.db"),
	})
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE carriers (id INTEGER PRIMARY KEY, carrier TEXT, capacity_kg REAL, active BOOLEAN)`,
		`INSERT INTO carriers VALUES (1, 'Northwind', 12000, 1)`,
		`INSERT INTO carriers VALUES (2, 'Fastline', 8000, 0)`,
		`INSERT INTO carriers VALUES (3, 'Atlas', 20000, 1)`,
	} {
		_, err := svc.ExecuteQuery(t.Context(), conn.ID, stmt, 0)
		require.NoError(t, err, stmt)
	}
	return svc, conn.ID
}

func TestDatabaseService_QueryGrid(t *testing.T) {
	e := newEnv(t)
	svc, connID := newDatabaseService(t, e)

	cols, rows, page, err := svc.QueryGrid(t.Context(), connID, "SELECT id, carrier, capacity_kg FROM carriers ORDER BY id", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "carriers", page.Table)
	require.Len(t, cols, 3)
	assert.Equal(t, grid.TypeNumber, cols[2].Type)

	_, _, _, err = svc.QueryGrid(t.Context(), connID, "UPDATE carriers SET active = 1", 0)
	assert.Error(t, err, "writes have no rows")
}

func TestDatabaseService_CachesResults(t *testing.T) {
	e := newEnv(t)
	svc, connID := newDatabaseService(t, e)
	query := "SELECT carrier FROM carriers ORDER BY carrier"

	cached, err := svc.GetCachedResult(connID, query)
	require.NoError(t, err)
	assert.Nil(t, cached)

	_, err = svc.QueryAll(t.Context(), connID, query, 0)
	require.NoError(t, err)

	cached, err = svc.GetCachedResult(connID, query)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, []string{"carrier"}, cached.Columns)
	assert.Equal(t, [][]any{{"Atlas"}, {"Fastline"}, {"Northwind"}}, cached.Rows)

	require.NoError(t, svc.ClearCachedResult(connID, query))
	cached, err = svc.GetCachedResult(connID, query)
	require.NoError(t, err)
	assert.Nil(t, cached)

	assert.NotEqual(t, service.CacheKey(connID, "a"), service.CacheKey(connID, "b"))
}

func TestDatabaseService_ETLProvider(t *testing.T) {
	e := newEnv(t)
	svc, connID := newDatabaseService(t, e)

	first, err := svc.ExecuteETLQuery(t.Context(), connID, "SELECT id FROM carriers ORDER BY id", 2)
	require.NoError(t, err)
	assert.Len(t, first.Rows, 2)
	assert.True(t, first.HasMore)

	next, err := svc.FetchMoreETLRows(t.Context(), connID, 2)
	require.NoError(t, err)
	assert.Len(t, next.Rows, 1)
	assert.False(t, next.HasMore)
}

func TestDatabaseService_Connections(t *testing.T) {
	e := newEnv(t)
	svc, connID := newDatabaseService(t, e)

	_, err := svc.CreateConnection(service.CreateDBConnInput{Name: "x", Driver: "oracle"})
	assert.Error(t, err)

	require.NoError(t, svc.TestConnection(t.Context(), connID))
	schema, err := svc.Introspect(t.Context(), connID)
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "carriers", schema.Tables[0].Name)

	list, err := svc.ListConnections()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteConnection(connID))
	_, err = svc.GetConnection(connID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDatabaseService_StoresPasswordInSecrets(t *testing.T) {
	e := newEnv(t)
	secrets, err := secret.NewFileStore(filepath.Join(e.dir, "secrets.json"))
	require.NoError(t, err)
	svc := service.NewDatabaseService(storage.NewDBConnectionStore(e.db), nil, secrets, nil)

	conn, err := svc.CreateConnection(service.CreateDBConnInput{Name: "pg", Driver: "postgres", Host: "db", Password: "s3cret"})
	require.NoError(t, err)

	pw, err := secrets.Get("db:" + conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pw))

	require.NoError(t, svc.DeleteConnection(conn.ID))
	pw, err = secrets.Get("db:" + conn.ID)
	require.NoError(t, err)
	assert.Empty(t, pw)
}

// ─────────────────────────────────────────────────────────────
// GridService over a query
// ─────────────────────────────────────────────────────────────

func TestGridService_QuerySessionEdits(t *testing.T) {
	e := newEnv(t)
	db, connID := newDatabaseService(t, e)
	svc := e.gridService(db)

	info, err := svc.OpenQuery(t.Context(), connID, "SELECT * FROM carriers", 0)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", info.Title)
	assert.Equal(t, 3, info.TotalRows)
	assert.Empty(t, info.DatasetID)

	_, err = svc.SetSort(info.ID, "capacity_kg")
	require.NoError(t, err)
	v, err := svc.View(info.ID)
	require.NoError(t, err)
	require.Len(t, v.Rows, 2)
	assert.Equal(t, "Fastline", v.Rows[0].Row["carrier"])

	// Rows are addressed by the table's single primary key.
	require.NoError(t, svc.Edit(t.Context(), info.ID, 2, map[string]any{"carrier": "Fastline Express"}))
	v, _ = svc.View(info.ID)
	assert.Equal(t, "Fastline Express", v.Rows[0].Row["carrier"])

	require.NoError(t, svc.Delete(t.Context(), info.ID, 3))
	got, _ := svc.Get(info.ID)
	assert.Equal(t, 2, got.TotalRows)

	page, err := db.QueryAll(t.Context(), connID, "SELECT carrier FROM carriers ORDER BY id", 0)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Northwind"}, {"Fastline Express"}}, page.Rows)
}

func TestGridService_QueryWithoutKeyIsReadOnly(t *testing.T) {
	e := newEnv(t)
	db, connID := newDatabaseService(t, e)
	svc := e.gridService(db)

	info, err := svc.OpenQuery(t.Context(), connID, "SELECT carrier, COUNT(*) AS n FROM carriers GROUP BY carrier", 0)
	require.NoError(t, err)

	v, _ := svc.View(info.ID)
	require.NotEmpty(t, v.Rows)
	assert.NotContains(t, v.Columns, grid.Column{Key: "__row"})

	err = svc.Edit(t.Context(), info.ID, v.Rows[0].ID, map[string]any{"carrier": "x"})
	assert.Error(t, err)
}
