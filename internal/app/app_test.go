package app_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/app"
	"backoffice/internal/config"
	"backoffice/internal/domain"
	"backoffice/internal/secret"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Grid.PageSize = 2

	secrets, err := secret.NewFileStore(filepath.Join(dir, "secrets.json"))
	require.NoError(t, err)

	a, err := app.New(cfg, nil, app.Options{Emitter: &service.MockEmitter{}, Secrets: secrets})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_WiresServices(t *testing.T) {
	a := newApp(t)

	d, err := a.Datasets.CreateDataset(service.CreateDatasetInput{Name: "Clients", Kind: domain.KindClient})
	require.NoError(t, err)
	_, err = a.Datasets.CreateRow(t.Context(), d.ID, map[string]any{"name": "Acme"})
	require.NoError(t, err)

	info, err := a.Grids.Open(t.Context(), "clients")
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalRows)
	assert.Equal(t, 2, info.State.PageSize)

	assert.FileExists(t, a.Config.ResolvedDatabasePath())
	assert.DirExists(t, filepath.Join(a.Config.DataDir, "edit"))
	assert.NotNil(t, a.MCPServer())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Logging.Level = "loud"
	_, err := app.New(cfg, nil, app.Options{})
	assert.Error(t, err)
}

func TestApprovalWatcher_ReportsEachPendingOnce(t *testing.T) {
	a := newApp(t)

	var (
		mu   sync.Mutex
		seen []string
	)
	w := app.NewApprovalWatcher(a.Approvals, 10*time.Millisecond, func(ap storage.Approval) {
		mu.Lock()
		seen = append(seen, ap.ID)
		mu.Unlock()
	}, nil)
	w.Start(t.Context())
	defer w.Stop()

	require.NoError(t, a.Approvals.CreateApproval(&storage.Approval{ID: "a1", Tool: "grid_delete_row", Description: "delete r1"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Still pending on later polls: not reported again.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Approvals.CreateApproval(&storage.Approval{ID: "a2", Tool: "etl_run_job", Description: "run"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a1", "a2"}, seen)
	mu.Unlock()
}
