package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// runCLI executes the root command against an isolated data directory and
// returns what it printed.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BACKOFFICE_DATA_DIR", dataDir)
	t.Setenv("EDITOR", "")

	// Flag variables outlive a single Execute.
	jsonOut, verbose, pageSize = false, false, 0
	gridFilters, gridSearch, gridSort, gridDesc, gridPage, gridHide, gridReset = nil, "", "", false, 0, nil, false
	datasetKind, datasetColumns = "custom", ""
	configForce = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(dataDir, "config.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

type viewJSON struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
	TotalRows  int `json:"totalRows"`
	SourceRows int `json:"sourceRows"`
	Rows       []struct {
		Cells []string `json:"cells"`
	} `json:"rows"`
	Sort *struct {
		Key       string `json:"key"`
		Direction string `json:"direction"`
	} `json:"sort"`
}

func seedClients(t *testing.T, dir string) {
	t.Helper()
	_, err := runCLI(t, dir, "dataset", "create", "Clients", "--kind", "client")
	require.NoError(t, err)
	for _, row := range []string{
		`{"name":"Acme","address":{"city":"Lisbon"},"balance":1200.5,"active":true}`,
		`{"name":"Globex","address":{"city":"Porto"},"balance":80,"active":false}`,
		`{"name":"Initech","address":{"city":"Lisbon"},"balance":430,"active":true}`,
	} {
		_, err := runCLI(t, dir, "dataset", "add-row", "Clients", row)
		require.NoError(t, err)
	}
}

// ─────────────────────────────────────────────────────────────
// Flag parsing
// ─────────────────────────────────────────────────────────────

func TestParseFilterFlag(t *testing.T) {
	key, v, err := parseFilterFlag("address.city=lis")
	require.NoError(t, err)
	assert.Equal(t, "address.city", key)
	assert.Equal(t, "lis", v.Text)
	assert.Nil(t, v.Range)

	key, v, err = parseFilterFlag("balance=100..500")
	require.NoError(t, err)
	assert.Equal(t, "balance", key)
	require.NotNil(t, v.Range)
	assert.Equal(t, 100.0, *v.Range.Min)
	assert.Equal(t, 500.0, *v.Range.Max)

	_, v, err = parseFilterFlag("balance=..500")
	require.NoError(t, err)
	assert.Nil(t, v.Range.Min)
	assert.Equal(t, 500.0, *v.Range.Max)

	_, v, err = parseFilterFlag("name=")
	require.NoError(t, err)
	assert.Equal(t, "", v.Text)

	_, _, err = parseFilterFlag("balance")
	assert.Error(t, err)
	_, _, err = parseFilterFlag("balance=abc..1")
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "City"}, [][]string{{"Acme", "Lisbon"}})
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "Acme")
	assert.Contains(t, out, "Lisbon")
}

// ─────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────

func TestDatasetAndGridCommands(t *testing.T) {
	dir := t.TempDir()
	seedClients(t, dir)

	out, err := runCLI(t, dir, "dataset", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Clients")

	out, err = runCLI(t, dir, "--json", "grid", "show", "Clients", "--filter", "address.city=lis", "--sort", "balance", "--desc")
	require.NoError(t, err)
	var v viewJSON
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 2, v.TotalRows)
	assert.Equal(t, 3, v.SourceRows)
	require.NotNil(t, v.Sort)
	assert.Equal(t, "desc", v.Sort.Direction)
	require.Len(t, v.Rows, 2)
	assert.Equal(t, "Acme", v.Rows[0].Cells[0])

	// The view is saved per dataset.
	out, err = runCLI(t, dir, "--json", "grid", "show", "Clients")
	require.NoError(t, err)
	v = viewJSON{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 2, v.TotalRows)

	out, err = runCLI(t, dir, "--json", "grid", "show", "Clients", "--reset")
	require.NoError(t, err)
	v = viewJSON{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 3, v.TotalRows)
	assert.Nil(t, v.Sort)
}

func TestGridPageSizeFlag(t *testing.T) {
	dir := t.TempDir()
	seedClients(t, dir)

	out, err := runCLI(t, dir, "--json", "--page-size", "2", "grid", "show", "Clients", "--page", "2")
	require.NoError(t, err)
	var v viewJSON
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, 2, v.TotalPages)
	assert.Len(t, v.Rows, 1)
}

func TestGridPageSizeFlagOverridesSavedView(t *testing.T) {
	dir := t.TempDir()
	seedClients(t, dir)

	// The first show saves a view with the default page size.
	out, err := runCLI(t, dir, "--json", "grid", "show", "Clients", "--sort", "name")
	require.NoError(t, err)
	var v viewJSON
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 1, v.TotalPages)

	out, err = runCLI(t, dir, "--json", "--page-size", "2", "grid", "show", "Clients", "--page", "2")
	require.NoError(t, err)
	v = viewJSON{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 2, v.PageSize)
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, 2, v.TotalPages)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "Initech", v.Rows[0].Cells[0])

	// Without the flag the last saved size sticks.
	out, err = runCLI(t, dir, "--json", "grid", "show", "Clients")
	require.NoError(t, err)
	v = viewJSON{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 2, v.PageSize)
}

func TestGridExportCommand(t *testing.T) {
	dir := t.TempDir()
	seedClients(t, dir)

	out, err := runCLI(t, dir, "grid", "export", "Clients", "--filter", "address.city=porto")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 rows to ")

	matches, err := filepath.Glob(filepath.Join(dir, "exports", "data-export-*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Globex")
	assert.NotContains(t, string(data), "Acme")
}

func TestApprovalsCommandEmpty(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "approvals")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending approvals")

	_, err = runCLI(t, t.TempDir(), "approve", "missing")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, dir, "config", "init")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Wrote "))
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))

	_, err = runCLI(t, dir, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	out, err = runCLI(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "page_size:")
}
