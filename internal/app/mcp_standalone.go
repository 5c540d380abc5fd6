package app

import (
	"context"

	"go.uber.org/zap"

	mcpserver "backoffice/internal/mcp"
)

// MCPServer builds the agent tool server over the App's services. Destructive
// tools wait for approvals recorded in SQLite, so `backoffice approve` from
// another terminal can resolve them.
func (a *App) MCPServer() *mcpserver.Server {
	return mcpserver.New(mcpserver.Deps{
		Name:            a.Config.MCP.Name,
		Version:         a.Config.MCP.Version,
		Emitter:         a.Emitter,
		Datasets:        a.Datasets,
		Grids:           a.Grids,
		Database:        a.Database,
		ETL:             a.ETL,
		Approvals:       a.Approvals,
		ApprovalTimeout: a.Config.GetApprovalTimeout(),
		Logger:          a.Logger,
	})
}

// ServeMCP runs the standalone MCP server on stdin/stdout until the client
// disconnects. Scheduled and file-watch imports run alongside it.
func (a *App) ServeMCP(ctx context.Context) error {
	a.ETL.RestartWatchers(ctx)
	defer a.ETL.Stop()

	a.Logger.Info("starting standalone MCP server",
		zap.String("name", a.Config.MCP.Name),
		zap.String("database", a.Config.ResolvedDatabasePath()))
	return a.MCPServer().ServeStdio()
}
