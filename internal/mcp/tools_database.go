package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerDatabaseTools() {
	s.mcp.AddTool(mcp.NewTool("list_db_connections",
		mcp.WithDescription("List all external database connections"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListDBConnections)

	s.mcp.AddTool(mcp.NewTool("introspect_database",
		mcp.WithDescription("Get schema information (tables and columns) of a database connection"),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleIntrospectDatabase)

	s.mcp.AddTool(mcp.NewTool("execute_query",
		mcp.WithDescription("Run a SQL query against a database connection. 🛑 Write queries (UPDATE/DELETE/DROP/INSERT) require user approval."),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
		mcp.WithString("query", mcp.Description("SQL query to execute"), mcp.Required()),
		mcp.WithNumber("fetchSize", mcp.Description("Number of rows to fetch (default 100)")),
	), s.handleExecuteQuery)

	s.mcp.AddTool(mcp.NewTool("db_query_grid",
		mcp.WithDescription("Open a grid session over the result of a read query. Rows of a single-table query with one primary key can be edited and deleted through grid_edit_row and grid_delete_row."),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
		mcp.WithString("query", mcp.Description("Read query (SELECT, or a MongoDB find)"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to load (default all)")),
	), s.handleDBQueryGrid)
}

func (s *Server) handleListDBConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.database.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return jsonResult(conns)
}

func (s *Server) handleIntrospectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requireString(req.GetArguments(), "connectionId")
	if err != nil {
		return nil, err
	}
	schema, err := s.database.Introspect(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return jsonResult(schema)
}

var writePrefixes = []string{"UPDATE", "DELETE", "DROP", "INSERT", "ALTER", "TRUNCATE", "CREATE", "REPLACE"}

// isWriteQuery reports whether a SQL statement modifies data or schema.
func isWriteQuery(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, p := range writePrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func (s *Server) handleExecuteQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID, err := requireString(args, "connectionId")
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	fetchSize := int(getFloat(args, "fetchSize", 100))

	if isWriteQuery(query) {
		if err := s.approval.Request(ctx, "execute_query",
			fmt.Sprintf("Execute write query: %s", truncate(query, 100))); err != nil {
			return textResult(fmt.Sprintf("Write query was not executed: %v", err)), nil
		}
	}

	result, err := s.database.ExecuteQuery(ctx, connID, query, fetchSize)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handleDBQueryGrid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID, err := requireString(args, "connectionId")
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	if isWriteQuery(query) {
		return nil, fmt.Errorf("db_query_grid needs a read query; use execute_query for writes")
	}
	if s.grids == nil {
		return nil, fmt.Errorf("grid sessions are not available")
	}

	info, err := s.grids.OpenQuery(ctx, connID, query, int(getFloat(args, "limit", 0)))
	if err != nil {
		return nil, fmt.Errorf("open query grid: %w", err)
	}
	return s.pageResult(info.ID)
}
