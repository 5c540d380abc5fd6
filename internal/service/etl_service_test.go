package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "backoffice/internal/etl/sources"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// ETLService tests
// ─────────────────────────────────────────────────────────────

func TestETLService_WaitRunning_Immediate(t *testing.T) {
	svc := service.NewETLService(nil, nil, &service.MockEmitter{}, nil, service.ETLOptions{})

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		svc.WaitRunning(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitRunning hung with no running jobs")
	}
}

func TestETLService_Stop_Idempotent(t *testing.T) {
	svc := service.NewETLService(nil, nil, &service.MockEmitter{}, nil, service.ETLOptions{})
	svc.Stop()
	svc.Stop()
}

func writeCSV(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "clients.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

type refreshRecorder struct{ ids []string }

func (r *refreshRecorder) RefreshDataset(_ context.Context, id string) error {
	r.ids = append(r.ids, id)
	return nil
}

func TestETLService_RunJob_ImportsIntoDataset(t *testing.T) {
	e := newEnv(t)
	target, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Imported"})
	require.NoError(t, err)

	path := writeCSV(t, e.dir, "name,city,balance\nAcme,Lisbon,10\nBorealis,Oslo,20\n")

	svc := service.NewETLService(e.etlStore, storage.NewDatasetStore(e.db), e.emitter, nil, service.ETLOptions{})
	t.Cleanup(svc.Stop)
	refresher := &refreshRecorder{}
	svc.SetRefresher(refresher)

	job, err := svc.CreateJob(t.Context(), service.CreateETLJobInput{
		Name:            "clients",
		SourceType:      "csv_file",
		SourceConfig:    map[string]any{"filePath": path},
		TargetDatasetID: target.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "manual", job.TriggerType)

	res, err := svc.RunJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 2, res.RowsWritten)

	rows, err := e.datasets.ListRows(target.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	ds, err := e.datasets.GetDataset(target.ID)
	require.NoError(t, err)
	var keys []string
	for _, c := range ds.Columns {
		keys = append(keys, c.Key)
	}
	assert.ElementsMatch(t, []string{"name", "city", "balance"}, keys)

	assert.NotEmpty(t, e.emitter.Named(service.EventDatasetUpdated))
	assert.Equal(t, []string{target.ID}, refresher.ids)

	logs, err := svc.ListRunLogs(job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)

	stored, err := svc.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", stored.LastStatus)
}

func TestETLService_RunJob_RecordsFailure(t *testing.T) {
	e := newEnv(t)
	target, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Imported"})
	require.NoError(t, err)

	svc := service.NewETLService(e.etlStore, storage.NewDatasetStore(e.db), e.emitter, nil, service.ETLOptions{})
	t.Cleanup(svc.Stop)

	job, err := svc.CreateJob(t.Context(), service.CreateETLJobInput{
		Name:            "missing file",
		SourceType:      "csv_file",
		SourceConfig:    map[string]any{"filePath": filepath.Join(e.dir, "nope.csv")},
		TargetDatasetID: target.ID,
	})
	require.NoError(t, err)

	res, err := svc.RunJob(t.Context(), job.ID)
	require.Error(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Empty(t, e.emitter.Named(service.EventDatasetUpdated))

	stored, err := svc.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", stored.LastStatus)
	assert.NotEmpty(t, stored.LastError)
}

func TestETLService_CreateJob_Validates(t *testing.T) {
	e := newEnv(t)
	target, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Imported"})
	require.NoError(t, err)
	svc := service.NewETLService(e.etlStore, storage.NewDatasetStore(e.db), e.emitter, nil, service.ETLOptions{})
	t.Cleanup(svc.Stop)

	cases := map[string]service.CreateETLJobInput{
		"unknown source":  {SourceType: "ftp", TargetDatasetID: target.ID},
		"no target":       {SourceType: "csv_file"},
		"missing target":  {SourceType: "csv_file", TargetDatasetID: "nope"},
		"bad sync mode":   {SourceType: "csv_file", TargetDatasetID: target.ID, SyncMode: "merge"},
		"bad cron":        {SourceType: "csv_file", TargetDatasetID: target.ID, TriggerType: "schedule", TriggerConfig: "every day"},
		"watch w/o path":  {SourceType: "csv_file", TargetDatasetID: target.ID, TriggerType: "file_watch"},
		"unknown trigger": {SourceType: "csv_file", TargetDatasetID: target.ID, TriggerType: "webhook"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateJob(t.Context(), in)
			assert.Error(t, err)
		})
	}
}

func TestETLService_FileWatchTriggersRun(t *testing.T) {
	e := newEnv(t)
	target, err := e.datasets.CreateDataset(service.CreateDatasetInput{Name: "Watched"})
	require.NoError(t, err)
	path := writeCSV(t, e.dir, "name\nAcme\n")

	svc := service.NewETLService(e.etlStore, storage.NewDatasetStore(e.db), e.emitter, nil, service.ETLOptions{
		WatchDebounce: 20 * time.Millisecond,
	})
	t.Cleanup(svc.Stop)

	_, err = svc.CreateJob(t.Context(), service.CreateETLJobInput{
		Name:            "watch",
		SourceType:      "csv_file",
		SourceConfig:    map[string]any{"filePath": path},
		TargetDatasetID: target.ID,
		TriggerType:     "file_watch",
		TriggerConfig:   path,
		Enabled:         true,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("name\nAcme\nBorealis\nCobalt\n"), 0644))

	require.Eventually(t, func() bool {
		return len(e.emitter.Named(service.EventETLJobCompleted)) > 0
	}, 5*time.Second, 20*time.Millisecond)

	rows, err := e.datasets.ListRows(target.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestETLService_PreviewSource(t *testing.T) {
	e := newEnv(t)
	path := writeCSV(t, e.dir, "name\na\nb\nc\n")
	svc := service.NewETLService(e.etlStore, storage.NewDatasetStore(e.db), e.emitter, nil, service.ETLOptions{PreviewLimit: 2})

	res, err := svc.PreviewSource(t.Context(), "csv_file", `{"filePath":"`+filepath.ToSlash(path)+`"}`)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	require.NotNil(t, res.Schema)
	assert.Equal(t, []string{"name"}, res.Schema.FieldNames())

	_, err = svc.PreviewSource(t.Context(), "csv_file", `{not json`)
	assert.Error(t, err)
}
