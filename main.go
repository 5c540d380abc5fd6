package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backoffice/internal/app"
	"backoffice/internal/config"
	"backoffice/internal/logging"
)

var (
	// Global flags
	cfgPath  string
	verbose  bool
	jsonOut  bool
	pageSize int

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "Back-office data grids for company, client, supplier and order directories",
	Long: `backoffice manages directory datasets (companies, clients, suppliers,
transports, orders, invoices) and browses them as filterable, sortable,
paginated grids.

Grids can also be opened over queries on external SQLite, MySQL, PostgreSQL
and MongoDB databases, fed by scheduled imports, and driven by AI agents
through the MCP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func defaultConfigPath() string {
	if p := os.Getenv("BACKOFFICE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "backoffice.yaml"
	}
	return filepath.Join(home, ".backoffice", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if pageSize > 0 {
		cfg.Grid.PageSize = pageSize
	}
	return cfg, nil
}

// openApp loads the config and wires the services for one command.
func openApp(opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger, opts)
}

// withApp runs fn against a freshly opened App and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().IntVar(&pageSize, "page-size", 0, "grid page size (overrides config)")

	rootCmd.AddCommand(datasetCmd, gridCmd, rowCmd, dbCmd, etlCmd)
	rootCmd.AddCommand(serveMCPCmd, approvalsCmd, approveCmd, rejectCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
