package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BACKOFFICE_DATA_DIR", "BACKOFFICE_DB", "BACKOFFICE_LOCALE", "BACKOFFICE_PAGE_SIZE", "BACKOFFICE_LOG_LEVEL", "EDITOR"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "en-US", cfg.Grid.Locale)
	assert.Equal(t, 10, cfg.Grid.PageSize)
	require.NoError(t, cfg.Validate())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/srv/backoffice"
	cfg.Grid.Locale = "de-DE"
	cfg.Grid.PageSize = 25
	cfg.ETL.RunTimeout = "90s"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/backoffice", got.DataDir)
	assert.Equal(t, "de-DE", got.Grid.Locale)
	assert.Equal(t, 25, got.Grid.PageSize)
	assert.Equal(t, 90*time.Second, got.GetRunTimeout())
	assert.Equal(t, "de-DE", got.Formatter().Locale())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid: [oops"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("data dir, db and locale", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_DATA_DIR", "/tmp/bo")
		t.Setenv("BACKOFFICE_DB", "grid.db")
		t.Setenv("BACKOFFICE_LOCALE", "pt-BR")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/bo", cfg.DataDir)
		assert.Equal(t, filepath.Join("/tmp/bo", "grid.db"), cfg.ResolvedDatabasePath())
		assert.Equal(t, filepath.Join("/tmp/bo", "exports"), cfg.ResolvedExportDir())
		assert.Equal(t, "pt-BR", cfg.Grid.Locale)
	})

	t.Run("page size ignores garbage", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_PAGE_SIZE", "many")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 10, cfg.Grid.PageSize)

		t.Setenv("BACKOFFICE_PAGE_SIZE", "50")
		cfg.applyEnvOverrides()
		assert.Equal(t, 50, cfg.Grid.PageSize)
	})

	t.Run("EDITOR replaces command and args", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("EDITOR", "nano")
		cfg := &Config{Editor: EditorConfig{Command: "nvim", Args: []string{"-u", "NONE"}}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "nano", cfg.Editor.Command)
		assert.Nil(t, cfg.Editor.Args)
	})
}

func TestResolve_AbsoluteAndMemory(t *testing.T) {
	cfg := &Config{DataDir: "/data", DatabasePath: ":memory:", ExportDir: "/abs/exports"}
	assert.Equal(t, ":memory:", cfg.ResolvedDatabasePath())
	assert.Equal(t, "/abs/exports", cfg.ResolvedExportDir())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.PageSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Minute, cfg.GetRunTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetWatchDebounce())
	assert.Equal(t, 5*time.Minute, cfg.GetApprovalTimeout())
}
