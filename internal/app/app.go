package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"backoffice/internal/config"
	"backoffice/internal/logging"
	"backoffice/internal/secret"
	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// App wires storage and services for one process: a CLI invocation or the
// standalone MCP server.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB        *storage.DB
	Approvals *storage.ApprovalStore
	Exports   *storage.ExportStore
	Secrets   secret.SecretStore
	Emitter   service.EventEmitter

	Datasets *service.DatasetService
	Grids    *service.GridService
	Database *service.DatabaseService
	ETL      *service.ETLService
	RowEdit  *service.RowEditService
}

// Options customize New.
type Options struct {
	// Emitter receives service events in addition to the debug log.
	Emitter service.EventEmitter
	// Secrets overrides the platform secret store.
	Secrets secret.SecretStore
	// RowEdit overrides the terminal wiring of the row editor.
	RowEdit *service.RowEditOptions
}

// New opens the database and builds every service.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger)

	db, err := storage.New(cfg.ResolvedDatabasePath(), cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	secrets := opts.Secrets
	if secrets == nil {
		if secrets, err = secret.Default(cfg.DataDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("open secret store: %w", err)
		}
	}

	emitter := service.EventEmitter(service.LogEmitter{Logger: logger.Named("events")})
	if opts.Emitter != nil {
		emitter = service.MultiEmitter{emitter, opts.Emitter}
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Approvals: storage.NewApprovalStore(db),
		Exports:   storage.NewExportStore(db),
		Secrets:   secrets,
		Emitter:   emitter,
	}

	views := storage.NewGridViewStore(db)
	datasetStore := storage.NewDatasetStore(db)

	a.Datasets = service.NewDatasetService(datasetStore, views, emitter, logger)
	a.Database = service.NewDatabaseService(
		storage.NewDBConnectionStore(db),
		storage.NewQueryResultStore(db),
		secrets,
		logger,
	)
	a.Grids = service.NewGridService(a.Datasets, a.Database, views, a.Exports, emitter, logger, service.GridOptions{
		Formatter: cfg.Formatter(),
		PageSize:  cfg.Grid.PageSize,
		ExportDir: cfg.ResolvedExportDir(),
	})
	a.ETL = service.NewETLService(storage.NewETLStore(db), datasetStore, emitter, logger, service.ETLOptions{
		RunTimeout:    cfg.GetRunTimeout(),
		PreviewLimit:  cfg.ETL.PreviewLimit,
		WatchDebounce: cfg.GetWatchDebounce(),
	})
	a.ETL.SetRefresher(a.Grids)

	rowOpts := service.RowEditOptions{
		Command: cfg.Editor.Command,
		Args:    cfg.Editor.Args,
		TempDir: filepath.Join(cfg.DataDir, "edit"),
	}
	if opts.RowEdit != nil {
		rowOpts = *opts.RowEdit
	}
	if err := os.MkdirAll(rowOpts.TempDir, 0700); err != nil {
		a.Close()
		return nil, fmt.Errorf("create editor dir: %w", err)
	}
	a.RowEdit = service.NewRowEditService(a.Datasets, emitter, logger, rowOpts)
	a.RowEdit.SetRefresher(a.Grids)

	setupETLAdapters(a)
	return a, nil
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	if a.ETL != nil {
		a.ETL.Stop()
	}
	if a.Grids != nil {
		a.Grids.CloseAll()
	}
	if a.Database != nil {
		a.Database.Close()
	}
	var err error
	if a.DB != nil {
		err = a.DB.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// Shutdown waits for running imports before closing.
func (a *App) Shutdown(ctx context.Context) error {
	if a.ETL != nil {
		a.ETL.Stop()
		a.ETL.WaitRunning(ctx)
	}
	return a.Close()
}
