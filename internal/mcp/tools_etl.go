package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"backoffice/internal/etl"
	"backoffice/internal/service"
)

func (s *Server) registerETLTools() {
	s.mcp.AddTool(mcp.NewTool("etl_list_sources",
		mcp.WithDescription("List available import source types with their configuration schemas"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListETLSources)

	s.mcp.AddTool(mcp.NewTool("etl_list_jobs",
		mcp.WithDescription("List import jobs with their last run status"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListETLJobs)

	s.mcp.AddTool(mcp.NewTool("etl_create_job",
		mcp.WithDescription("Create an import job (source → transforms → dataset)."),
		mcp.WithString("name", mcp.Description("Job name"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type (use etl_list_sources to see available types)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON"), mcp.Required()),
		mcp.WithString("datasetId", mcp.Description("Target dataset ID or name"), mcp.Required()),
		mcp.WithString("syncMode", mcp.Description("replace (default) or append")),
		mcp.WithString("transformsJSON", mcp.Description(`Optional JSON array of transforms applied in order. Each transform has {type, config}. Available types:
- filter: {field, op (eq|neq|gt|lt|contains|between), value}; between takes min/max
- rename: {mapping: {oldName: newName}}
- select: {fields: ["col1","col2"]}
- compute: {columns: [{name, expression}]}, use {field} refs
- sort: {field, direction (asc|desc)}
- limit: {count}
- type_cast: {field, castType (number|string|bool|date|datetime)}
- flatten: {sourceField, fields: [{path, alias}]}
Example: [{"type":"filter","config":{"field":"city","op":"contains","value":"lisbon"}}]`)),
		mcp.WithString("dedupeKey", mcp.Description("Column name for deduplication (optional)")),
	), s.handleCreateETLJob)

	s.mcp.AddTool(mcp.NewTool("etl_run_job",
		mcp.WithDescription("Run an import job now. 🛑 Jobs in replace mode overwrite the target dataset and require user approval."),
		mcp.WithString("jobId", mcp.Description("Job ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunETLJob)

	s.mcp.AddTool(mcp.NewTool("etl_preview_source",
		mcp.WithDescription("Preview records from a source without persisting anything"),
		mcp.WithString("sourceType", mcp.Description("Source type"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePreviewETLSource)
}

func (s *Server) handleListETLSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.etl.ListSources())
}

func (s *Server) handleListETLJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.etl.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	type listedJob struct {
		etl.SyncJob
		Running bool `json:"running"`
	}
	out := make([]listedJob, len(jobs))
	for i, j := range jobs {
		out[i] = listedJob{SyncJob: j, Running: s.etl.IsRunning(j.ID)}
	}
	return jsonResult(out)
}

func (s *Server) handleCreateETLJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	sourceType, err := requireString(args, "sourceType")
	if err != nil {
		return nil, err
	}
	ref, err := requireString(args, "datasetId")
	if err != nil {
		return nil, err
	}

	var sourceConfig map[string]any
	if err := decodeArg(args, "sourceConfigJSON", &sourceConfig); err != nil {
		return nil, err
	}
	var transforms []etl.TransformConfig
	if _, ok := args["transformsJSON"]; ok {
		if err := decodeArg(args, "transformsJSON", &transforms); err != nil {
			return nil, err
		}
	}

	d, err := s.datasets.FindDataset(ref)
	if err != nil {
		return nil, err
	}

	job, err := s.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:            name,
		SourceType:      sourceType,
		SourceConfig:    sourceConfig,
		Transforms:      transforms,
		TargetDatasetID: d.ID,
		SyncMode:        getString(args, "syncMode"),
		DedupeKey:       getString(args, "dedupeKey"),
		Enabled:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleRunETLJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requireString(req.GetArguments(), "jobId")
	if err != nil {
		return nil, err
	}
	job, err := s.etl.GetJob(jobID)
	if err != nil {
		return nil, err
	}

	if job.SyncMode != etl.SyncAppend {
		meta, _ := json.Marshal(map[string]string{"jobId": job.ID, "datasetId": job.TargetDatasetID})
		if err := s.approval.Request(ctx, "etl_run_job",
			fmt.Sprintf("Run import %q (replaces every row of dataset %s)", job.Name, job.TargetDatasetID), string(meta)); err != nil {
			return textResult(fmt.Sprintf("Job %s was not run: %v", job.ID, err)), nil
		}
	}

	result, err := s.etl.RunJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("run job: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handlePreviewETLSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sourceType, err := requireString(args, "sourceType")
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := decodeArg(args, "sourceConfigJSON", &cfg); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	preview, err := s.etl.PreviewSource(ctx, sourceType, string(raw))
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}
	return jsonResult(preview)
}
