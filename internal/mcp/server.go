package mcpserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"backoffice/internal/logging"
	"backoffice/internal/service"
)

// Server is the MCP server for the back office.
// It exposes tools, resources, and prompts so AI agents can browse datasets,
// drive grid sessions and run imports.
type Server struct {
	mcp      *server.MCPServer
	emitter  service.EventEmitter
	approval *ApprovalQueue
	logger   *zap.Logger

	datasets *service.DatasetService
	grids    *service.GridService
	database *service.DatabaseService
	etl      *service.ETLService
}

// Deps holds all dependencies passed from the CLI to the MCP server.
type Deps struct {
	Name    string
	Version string

	Emitter  service.EventEmitter
	Datasets *service.DatasetService
	Grids    *service.GridService
	Database *service.DatabaseService
	ETL      *service.ETLService

	// Approvals, when set, makes destructive tools wait for a decision
	// recorded in SQLite by another process (standalone mode).
	Approvals       ApprovalBackend
	ApprovalTimeout time.Duration

	Logger *zap.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	logger := logging.OrNop(deps.Logger).Named("mcp")
	emitter := deps.Emitter
	if emitter == nil {
		emitter = service.NopEmitter{}
	}

	approval := NewApprovalQueue(emitter, deps.ApprovalTimeout, logger)
	if deps.Approvals != nil {
		approval.SetStore(deps.Approvals)
	}

	name, version := deps.Name, deps.Version
	if name == "" {
		name = "backoffice"
	}
	if version == "" {
		version = "1.0.0"
	}

	s := &Server{
		emitter:  emitter,
		approval: approval,
		logger:   logger,
		datasets: deps.Datasets,
		grids:    deps.Grids,
		database: deps.Database,
		etl:      deps.ETL,
	}

	s.mcp = server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerDatasetTools()
	s.registerGridTools()
	s.registerResources()

	if s.database != nil {
		s.registerDatabaseTools()
	}
	if s.etl != nil {
		s.registerETLTools()
	}
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// MCPServer exposes the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Approvals returns the queue destructive tools wait on.
func (s *Server) Approvals() *ApprovalQueue {
	return s.approval
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
