package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("review_directory",
		mcp.WithPromptDescription("Walk a directory dataset page by page and report rows that need attention"),
		mcp.WithArgument("dataset",
			mcp.ArgumentDescription("Dataset name or ID (e.g. Clients)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("criteria",
			mcp.ArgumentDescription("What to look for (e.g. negative balances, missing tax IDs)"),
			mcp.RequiredArgument(),
		),
	), s.handleReviewDirectoryPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("import_pipeline",
		mcp.WithPromptDescription("Set up an import from an external source into a dataset"),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Source type (e.g. csv_file, json_file, http, database)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("description",
			mcp.ArgumentDescription("What this import brings in"),
			mcp.RequiredArgument(),
		),
	), s.handleImportPipelinePrompt)
}

func (s *Server) handleReviewDirectoryPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	dataset := req.Params.Arguments["dataset"]
	criteria := req.Params.Arguments["criteria"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review %s for: %s", dataset, criteria),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Review the "%s" dataset looking for: %s. Follow these steps:

1. Use grid_open with datasetId "%s" and note the session id and columns
2. Narrow the rows with grid_set_filter (text or min/max ranges) or grid_set_search where the criteria allow it
3. Use grid_sort to bring the most relevant rows to the top
4. Walk the pages with grid_goto_page (step "next") and collect the matching rows
5. Summarize the findings as a short table: row id, the offending values, and a suggested fix

Do not edit or delete rows unless asked. If a cleanup is requested, use grid_edit_row; grid_delete_row needs human approval.`, dataset, criteria, dataset),
				},
			},
		},
	}, nil
}

func (s *Server) handleImportPipelinePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sourceType := req.Params.Arguments["sourceType"]
	description := req.Params.Arguments["description"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Set up a %s import", sourceType),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Set up an import: %s. Follow these steps:

1. Use etl_list_sources to read the configuration fields of the "%s" source
2. Use etl_preview_source with a draft configuration and check the discovered fields
3. Pick or create the target dataset (list_datasets, create_dataset) with columns matching the fields
4. Create the job with etl_create_job, adding transforms (rename, type_cast, filter) where the fields need shaping
5. Run it with etl_run_job and confirm the rows with grid_open

Prefer syncMode "append" for incremental feeds; "replace" overwrites the dataset and needs approval.`, description, sourceType),
				},
			},
		},
	}, nil
}
