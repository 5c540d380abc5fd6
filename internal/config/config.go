package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"backoffice/internal/grid"
)

// Config holds all backoffice configuration.
type Config struct {
	// DataDir holds exports, secrets and the default database.
	DataDir string `yaml:"data_dir"`
	// DatabasePath is the SQLite file. Relative paths resolve against DataDir.
	DatabasePath string `yaml:"database_path"`
	// ExportDir receives CSV downloads. Relative paths resolve against DataDir.
	ExportDir string `yaml:"export_dir"`

	Grid    GridConfig    `yaml:"grid"`
	ETL     ETLConfig     `yaml:"etl"`
	MCP     MCPConfig     `yaml:"mcp"`
	Editor  EditorConfig  `yaml:"editor"`
	Logging LoggingConfig `yaml:"logging"`
}

// GridConfig configures grid sessions.
type GridConfig struct {
	Locale     string `yaml:"locale"`
	DateLayout string `yaml:"date_layout"` // empty uses the locale's layout
	PageSize   int    `yaml:"page_size"`
}

// ETLConfig configures import jobs.
type ETLConfig struct {
	RunTimeout    string `yaml:"run_timeout"`
	PreviewLimit  int    `yaml:"preview_limit"`
	WatchDebounce string `yaml:"watch_debounce"`
}

// MCPConfig configures the agent tool server.
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// ApprovalTimeout bounds how long a destructive tool waits for a human.
	ApprovalTimeout string `yaml:"approval_timeout"`
}

// EditorConfig configures the row editor.
type EditorConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".backoffice")
	}
	return &Config{
		DataDir:      dataDir,
		DatabasePath: "backoffice.db",
		ExportDir:    "exports",

		Grid: GridConfig{
			Locale:   grid.DefaultLocale,
			PageSize: grid.DefaultPageSize,
		},

		ETL: ETLConfig{
			RunTimeout:    "5m",
			PreviewLimit:  10,
			WatchDebounce: "500ms",
		},

		MCP: MCPConfig{
			Name:            "backoffice",
			Version:         "1.0.0",
			ApprovalTimeout: "5m",
		},

		Editor: EditorConfig{
			Command: "vi",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err) || path == "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("BACKOFFICE_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if path := os.Getenv("BACKOFFICE_DB"); path != "" {
		c.DatabasePath = path
	}
	if locale := os.Getenv("BACKOFFICE_LOCALE"); locale != "" {
		c.Grid.Locale = locale
	}
	if size := os.Getenv("BACKOFFICE_PAGE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			c.Grid.PageSize = n
		}
	}
	if level := os.Getenv("BACKOFFICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		c.Editor.Command = editor
		c.Editor.Args = nil
	}
}

// ResolvedDatabasePath returns the SQLite path, joined with DataDir when
// relative. ":memory:" is returned as is.
func (c *Config) ResolvedDatabasePath() string {
	return c.resolve(c.DatabasePath)
}

// ResolvedExportDir returns the export directory, joined with DataDir when
// relative.
func (c *Config) ResolvedExportDir() string {
	return c.resolve(c.ExportDir)
}

func (c *Config) resolve(p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Formatter builds the grid value formatter for the configured locale.
func (c *Config) Formatter() *grid.Formatter {
	return grid.NewFormatter(c.Grid.Locale, c.Grid.DateLayout)
}

// GetRunTimeout returns the ETL run timeout as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	return parseDuration(c.ETL.RunTimeout, 5*time.Minute)
}

// GetWatchDebounce returns the file-watch debounce as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.ETL.WatchDebounce, 500*time.Millisecond)
}

// GetApprovalTimeout returns how long destructive tools wait for approval.
func (c *Config) GetApprovalTimeout() time.Duration {
	return parseDuration(c.MCP.ApprovalTimeout, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.Grid.PageSize < 1 {
		return fmt.Errorf("invalid grid page size: %d", c.Grid.PageSize)
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}
