package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"backoffice/internal/grid"
)

func (s *Server) registerGridTools() {
	if s.grids == nil {
		return
	}

	// ── grid_open ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_open",
		mcp.WithDescription("Open a grid session over a dataset. The saved view (visible columns, filters, search, sort, page size) is restored. Returns the session id used by the other grid_* tools and the first page."),
		mcp.WithString("datasetId", mcp.Description("Dataset ID or name"), mcp.Required()),
	), s.handleGridOpen)

	// ── grid_view ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_view",
		mcp.WithDescription("Render the current page of a grid session: visible columns, formatted cells and pagination"),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleGridView)

	// ── grid_toggle_column ─────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_toggle_column",
		mcp.WithDescription("Show or hide a column"),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("column", mcp.Description("Column key"), mcp.Required()),
	), s.handleGridToggleColumn)

	// ── grid_set_filter ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_set_filter",
		mcp.WithDescription("Set a column filter. Pass text for a case-insensitive substring match, or min/max for a numeric range. Pass neither to clear the filter."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("column", mcp.Description("Column key"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Substring to match")),
		mcp.WithNumber("min", mcp.Description("Inclusive lower bound")),
		mcp.WithNumber("max", mcp.Description("Inclusive upper bound")),
	), s.handleGridSetFilter)

	// ── grid_set_search ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_set_search",
		mcp.WithDescription("Search every visible column for a substring. An empty term clears the search."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("term", mcp.Description("Search term")),
	), s.handleGridSetSearch)

	// ── grid_sort ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_sort",
		mcp.WithDescription("Sort by a column. Sorting by the same column again flips the direction."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("column", mcp.Description("Column key"), mcp.Required()),
	), s.handleGridSort)

	// ── grid_goto_page ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_goto_page",
		mcp.WithDescription("Go to a page (1-based). Out of range pages are clamped."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithNumber("page", mcp.Description("Page number")),
		mcp.WithString("step", mcp.Description("next | prev, used when page is omitted")),
	), s.handleGridGotoPage)

	// ── grid_export_csv ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_export_csv",
		mcp.WithDescription("Export every filtered, sorted row of the session (all pages, visible columns) as a CSV file in the export directory"),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
	), s.handleGridExportCSV)

	// ── grid_edit_row ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_edit_row",
		mcp.WithDescription("Update fields of a row. Keys may be dotted paths (address.city); null removes a field."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("rowId", mcp.Description("Row ID as shown by grid_view"), mcp.Required()),
		mcp.WithString("patchJSON", mcp.Description(`JSON object of changes, e.g. {"balance": 0, "address.city": "Porto"}`), mcp.Required()),
	), s.handleGridEditRow)

	// ── grid_delete_row ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("grid_delete_row",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete a row from the dataset or table behind the session. Requires user approval."),
		mcp.WithString("sessionId", mcp.Description("Grid session ID"), mcp.Required()),
		mcp.WithString("rowId", mcp.Description("Row ID as shown by grid_view"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleGridDeleteRow)
}

// gridPage is the agent-facing rendering of a grid view.
type gridPage struct {
	SessionID  string               `json:"sessionId"`
	Columns    []string             `json:"columns"`
	Headers    []string             `json:"headers"`
	Rows       []gridPageRow        `json:"rows"`
	Page       int                  `json:"page"`
	TotalPages int                  `json:"totalPages"`
	TotalRows  int                  `json:"totalRows"`
	Filters    grid.Filters         `json:"filters,omitempty"`
	Search     string               `json:"search,omitempty"`
	Sort       *grid.SortDescriptor `json:"sort,omitempty"`
}

type gridPageRow struct {
	ID    string   `json:"id"`
	Cells []string `json:"cells"`
}

func renderPage(sessionID string, v *grid.View) gridPage {
	p := gridPage{
		SessionID:  sessionID,
		Columns:    make([]string, len(v.Columns)),
		Headers:    make([]string, len(v.Columns)),
		Rows:       make([]gridPageRow, len(v.Rows)),
		Page:       v.Page,
		TotalPages: v.TotalPages,
		TotalRows:  v.TotalRows,
		Filters:    v.Filters,
		Search:     v.Search,
		Sort:       v.Sort,
	}
	for i, c := range v.Columns {
		p.Columns[i] = c.Key
		p.Headers[i] = c.Header()
	}
	for i, r := range v.Rows {
		p.Rows[i] = gridPageRow{ID: grid.Stringify(r.ID), Cells: r.Cells}
	}
	return p
}

func (s *Server) pageResult(sessionID string) (*mcp.CallToolResult, error) {
	v, err := s.grids.View(sessionID)
	if err != nil {
		return nil, err
	}
	return jsonResult(renderPage(sessionID, v))
}

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleGridOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := requireString(req.GetArguments(), "datasetId")
	if err != nil {
		return nil, err
	}
	info, err := s.grids.Open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open grid: %w", err)
	}
	return s.pageResult(info.ID)
}

func (s *Server) handleGridView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requireString(req.GetArguments(), "sessionId")
	if err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridToggleColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	col, err := requireString(args, "column")
	if err != nil {
		return nil, err
	}
	if err := s.grids.ToggleColumn(sid, col); err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

// filterFromArgs builds a filter from text or min/max. No argument yields the
// zero value, which clears the column's filter.
func filterFromArgs(args map[string]any) (grid.FilterValue, error) {
	text, _ := args["text"].(string)
	minV, hasMin := args["min"].(float64)
	maxV, hasMax := args["max"].(float64)

	switch {
	case text != "" && (hasMin || hasMax):
		return grid.FilterValue{}, fmt.Errorf("pass either text or min/max, not both")
	case hasMin && hasMax:
		return grid.Between(minV, maxV), nil
	case hasMin:
		return grid.AtLeast(minV), nil
	case hasMax:
		return grid.AtMost(maxV), nil
	default:
		return grid.Text(text), nil
	}
}

func (s *Server) handleGridSetFilter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	col, err := requireString(args, "column")
	if err != nil {
		return nil, err
	}
	value, err := filterFromArgs(args)
	if err != nil {
		return nil, err
	}
	if err := s.grids.SetFilter(sid, col, value); err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridSetSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	term, _ := args["term"].(string)
	if err := s.grids.SetSearch(sid, term); err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridSort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	col, err := requireString(args, "column")
	if err != nil {
		return nil, err
	}
	if _, err := s.grids.SetSort(sid, col); err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridGotoPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}

	if page, ok := args["page"].(float64); ok {
		_, err = s.grids.GotoPage(sid, int(page))
	} else {
		switch strings.ToLower(getString(args, "step")) {
		case "next":
			_, err = s.grids.NextPage(sid)
		case "prev", "previous":
			_, err = s.grids.PrevPage(sid)
		default:
			return nil, fmt.Errorf("page or step (next|prev) is required")
		}
	}
	if err != nil {
		return nil, err
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridExportCSV(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requireString(req.GetArguments(), "sessionId")
	if err != nil {
		return nil, err
	}
	rec, err := s.grids.Export(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	return jsonResult(rec)
}

func (s *Server) handleGridEditRow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	rowID, err := requireString(args, "rowId")
	if err != nil {
		return nil, err
	}
	var patch map[string]any
	if err := decodeArg(args, "patchJSON", &patch); err != nil {
		return nil, err
	}
	if err := s.grids.Edit(ctx, sid, rowID, patch); err != nil {
		return nil, fmt.Errorf("edit row: %w", err)
	}
	return s.pageResult(sid)
}

func (s *Server) handleGridDeleteRow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sid, err := requireString(args, "sessionId")
	if err != nil {
		return nil, err
	}
	rowID, err := requireString(args, "rowId")
	if err != nil {
		return nil, err
	}
	info, err := s.grids.Get(sid)
	if err != nil {
		return nil, err
	}

	meta, _ := json.Marshal(map[string]string{"sessionId": sid, "rowId": rowID})
	if err := s.approval.Request(ctx, "grid_delete_row",
		fmt.Sprintf("Delete row %s from %s", rowID, info.Title), string(meta)); err != nil {
		return textResult(fmt.Sprintf("Row %s was not deleted: %v", rowID, err)), nil
	}

	if err := s.grids.Delete(ctx, sid, rowID); err != nil {
		return nil, fmt.Errorf("delete row: %w", err)
	}
	return s.pageResult(sid)
}
