package app

// ─────────────────────────────────────────────────────────────
// ETL Adapter Bridge
// ─────────────────────────────────────────────────────────────
//
// The ETL sources package reaches external databases and other datasets
// through the DBProvider and DatasetProvider interfaces so it does not import
// the services. DatabaseService and DatasetService satisfy them directly.

import (
	"backoffice/internal/etl/sources"
)

func setupETLAdapters(a *App) {
	sources.SetDBProvider(a.Database)
	sources.SetDatasetProvider(a.Datasets)
}
