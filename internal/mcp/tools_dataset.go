package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/service"
)

func (s *Server) registerDatasetTools() {
	s.mcp.AddTool(mcp.NewTool("list_datasets",
		mcp.WithDescription("List all datasets (companies, clients, suppliers, transports, orders, invoices and custom tables) with their row counts"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListDatasets)

	s.mcp.AddTool(mcp.NewTool("create_dataset",
		mcp.WithDescription("Create a dataset. Without columns it starts with the built-in columns of its kind."),
		mcp.WithString("name", mcp.Description("Dataset name"), mcp.Required()),
		mcp.WithString("kind", mcp.Description("company | client | supplier | transport | sales_order | purchase_order | invoice | custom (default custom)")),
		mcp.WithString("columnsJSON", mcp.Description(`Optional JSON array of columns: [{"key":"name","displayName":"Name","type":"string","sortable":true,"filterable":true}]. Types: string, number, date, boolean. Dotted keys (address.city) read nested values.`)),
	), s.handleCreateDataset)

	s.mcp.AddTool(mcp.NewTool("add_rows",
		mcp.WithDescription("Append rows to a dataset"),
		mcp.WithString("datasetId", mcp.Description("Dataset ID or name"), mcp.Required()),
		mcp.WithString("rowsJSON", mcp.Description(`JSON array of row objects keyed by column key, e.g. [{"name":"Acme","balance":120.5}]`), mcp.Required()),
	), s.handleAddRows)
}

type datasetSummary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Kind     domain.DatasetKind `json:"kind"`
	Columns  int                `json:"columns"`
	RowCount int                `json:"rowCount"`
}

func (s *Server) summarizeDatasets() ([]datasetSummary, error) {
	datasets, err := s.datasets.ListDatasets()
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := make([]datasetSummary, 0, len(datasets))
	for _, d := range datasets {
		sum := datasetSummary{ID: d.ID, Name: d.Name, Kind: d.Kind, Columns: len(d.Columns)}
		if stats, err := s.datasets.GetDatasetStats(d.ID); err == nil {
			sum.RowCount = stats.RowCount
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Server) handleListDatasets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries, err := s.summarizeDatasets()
	if err != nil {
		return nil, err
	}
	return jsonResult(summaries)
}

func (s *Server) handleCreateDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}

	input := service.CreateDatasetInput{
		Name: name,
		Kind: domain.DatasetKind(getString(args, "kind")),
	}
	if _, ok := args["columnsJSON"]; ok {
		var cols []grid.Column
		if err := decodeArg(args, "columnsJSON", &cols); err != nil {
			return nil, err
		}
		input.Columns = cols
	}

	d, err := s.datasets.CreateDataset(input)
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	return jsonResult(d)
}

func (s *Server) handleAddRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	ref, err := requireString(args, "datasetId")
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := decodeArg(args, "rowsJSON", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("rowsJSON must contain at least one row")
	}

	d, err := s.datasets.FindDataset(ref)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for i, data := range rows {
		row, err := s.datasets.CreateRow(ctx, d.ID, data)
		if err != nil {
			return nil, fmt.Errorf("add row %d: %w", i, err)
		}
		ids = append(ids, row.ID)
	}
	if s.grids != nil {
		if err := s.grids.RefreshDataset(ctx, d.ID); err != nil {
			s.logger.Warn("refresh grid sessions", zap.String("datasetId", d.ID), zap.Error(err))
		}
	}
	return jsonResult(map[string]any{
		"datasetId": d.ID,
		"added":     len(ids),
		"rowIds":    ids,
	})
}
