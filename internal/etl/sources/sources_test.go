package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"backoffice/internal/etl"
	"backoffice/internal/etl/sources"
	"backoffice/internal/grid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func preview(t *testing.T, typ string, cfg etl.SourceConfig) ([]etl.Record, *etl.Schema) {
	t.Helper()
	recs, schema, err := (&etl.Engine{}).Preview(context.Background(), typ, cfg, 100)
	require.NoError(t, err)
	return recs, schema
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCSVFile_InfersValues(t *testing.T) {
	p := writeFile(t, "clients.csv", "name;balance;active\nAcme;12.5;true\nGlobex;;no\n")
	recs, schema := preview(t, "csv_file", etl.SourceConfig{"filePath": p, "delimiter": ";"})

	assert.Equal(t, []string{"name", "balance", "active"}, schema.FieldNames())
	require.Len(t, recs, 2)
	assert.Equal(t, 12.5, recs[0].Data["balance"])
	assert.Equal(t, true, recs[0].Data["active"])
	assert.Nil(t, recs[1].Data["balance"])
	assert.Equal(t, false, recs[1].Data["active"])
}

func TestCSVFile_NoHeader(t *testing.T) {
	p := writeFile(t, "raw.csv", "a,1\nb,2\n")
	recs, schema := preview(t, "csv_file", etl.SourceConfig{"filePath": p, "hasHeader": "false"})
	assert.Equal(t, []string{"col_1", "col_2"}, schema.FieldNames())
	assert.Len(t, recs, 2)
}

func TestCSVFile_DiscoversTypesInHeaderOrder(t *testing.T) {
	p := writeFile(t, "orders.csv", "number,total,,total,issued\nSO-1,,x,3,2024-05-01\nSO-2,19.9,y,4,2024-05-02\n")
	recs, schema := preview(t, "csv_file", etl.SourceConfig{"filePath": p})

	assert.Equal(t, []string{"number", "total", "col_3", "total_2", "issued"}, schema.FieldNames())
	types := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		types[i] = f.Type
	}
	assert.Equal(t, []string{"text", "number", "text", "number", "datetime"}, types)
	require.Len(t, recs, 2)
	assert.Equal(t, 3.0, recs[0].Data["total_2"])
}

func TestCSVFile_PreviewStopsAtLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 500; i++ {
		b.WriteString("x\n")
	}
	p := writeFile(t, "big.csv", b.String())
	recs, _, err := (&etl.Engine{}).Preview(context.Background(), "csv_file", etl.SourceConfig{"filePath": p}, 5)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestJSONFile_RootArrayAndLines(t *testing.T) {
	p := writeFile(t, "suppliers.json", `[{"name":"Acme","rating":4},"skip me",{"name":"Globex","rating":5}]`)
	recs, schema := preview(t, "json_file", etl.SourceConfig{"filePath": p})
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"name", "rating"}, schema.FieldNames())

	p = writeFile(t, "suppliers.jsonl", "{\"name\":\"Acme\"}\n\n{\"name\":\"Globex\"}\n")
	recs, _ = preview(t, "json_file", etl.SourceConfig{"filePath": p})
	require.Len(t, recs, 2)
	assert.Equal(t, "Globex", recs[1].Data["name"])

	p = writeFile(t, "broken.jsonl", "{\"name\":\"Acme\"}\n{oops\n")
	_, _, err := (&etl.Engine{}).Preview(context.Background(), "json_file", etl.SourceConfig{"filePath": p}, 10)
	assert.ErrorContains(t, err, "line 2")
}

func TestJSONFile_DataPath(t *testing.T) {
	p := writeFile(t, "orders.json", `{"data":{"items":[{"number":"SO-1","client":{"name":"Acme"},"total":10},{"number":"SO-2","total":5}]}}`)
	recs, schema := preview(t, "json_file", etl.SourceConfig{"filePath": p, "dataPath": "data.items"})

	require.Len(t, recs, 2)
	assert.Equal(t, "Acme", grid.Resolve(recs[0].Data, "client.name"), "nested objects stay nested")

	types := map[string]string{}
	for _, f := range schema.Fields {
		types[f.Name] = f.Type
	}
	assert.Equal(t, "number", types["total"])

	_, _, err := (&etl.Engine{}).Preview(context.Background(), "json_file", etl.SourceConfig{"filePath": p, "dataPath": "data.missing"}, 10)
	assert.Error(t, err)
}

func TestHTTP_FetchesAndInfersDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"carrier":"DHL","since":"2023-04-01"},{"carrier":"UPS","since":"2021-01-15"}]}`))
	}))
	defer srv.Close()

	recs, schema := preview(t, "http", etl.SourceConfig{
		"url":      srv.URL,
		"headers":  `{"Authorization":"Bearer t0k"}`,
		"dataPath": "results",
	})
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"carrier", "since"}, schema.FieldNames())
	assert.Equal(t, "datetime", schema.Fields[1].Type)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, err := (&etl.Engine{}).Preview(context.Background(), "http", etl.SourceConfig{"url": srv.URL}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

type fakeDatasets struct{}

func (fakeDatasets) DatasetGrid(ctx context.Context, id string) ([]grid.Column, []grid.Row, *grid.State, error) {
	cols := []grid.Column{
		{Key: "name", Type: grid.TypeString, Filterable: true, Sortable: true},
		{Key: "total", Type: grid.TypeNumber, Filterable: true, Sortable: true},
	}
	rows := []grid.Row{
		{"id": "r1", "name": "A", "total": 5.0},
		{"id": "r2", "name": "B", "total": 50.0},
		{"id": "r3", "name": "C", "total": 30.0},
	}
	state := &grid.State{
		Filters: grid.Filters{"total": grid.AtLeast(10)},
		Sort:    &grid.SortDescriptor{Key: "total", Direction: grid.Asc},
	}
	return cols, rows, state, nil
}

func TestDataset_AppliesSavedView(t *testing.T) {
	sources.SetDatasetProvider(fakeDatasets{})
	defer sources.SetDatasetProvider(nil)

	recs, schema := preview(t, "dataset", etl.SourceConfig{"datasetId": "ds"})
	require.Len(t, recs, 2)
	assert.Equal(t, "C", recs[0].Data["name"])
	assert.Equal(t, "B", recs[1].Data["name"])
	assert.NotContains(t, recs[0].Data, "id")
	assert.Equal(t, "number", schema.Fields[1].Type)

	recs, _ = preview(t, "dataset", etl.SourceConfig{"datasetId": "ds", "useView": "false"})
	assert.Len(t, recs, 3)
}
