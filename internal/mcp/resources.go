package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	datasetsURI     = "backoffice://datasets"
	datasetRowsURI  = "backoffice://datasets/{datasetId}/rows"
	datasetsURIBase = datasetsURI + "/"
)

func (s *Server) registerResources() {
	// ── backoffice://datasets ──────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		datasetsURI,
		"All Datasets",
		mcp.WithResourceDescription("Datasets with their kind, column count and row count"),
		mcp.WithMIMEType("application/json"),
	), s.handleDatasetsResource)

	// ── backoffice://datasets/{datasetId}/rows ─────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			datasetRowsURI,
			"Rows of a Dataset",
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleDatasetRowsResource,
	)
}

func (s *Server) handleDatasetsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	summaries, err := s.summarizeDatasets()
	if err != nil {
		return nil, err
	}
	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      datasetsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDatasetRowsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	ref := datasetIDFromURI(uri)
	if ref == "" {
		return nil, fmt.Errorf("could not extract datasetId from URI: %s", uri)
	}

	d, err := s.datasets.FindDataset(ref)
	if err != nil {
		return nil, err
	}
	rows, err := s.datasets.ListRows(d.ID)
	if err != nil {
		return nil, err
	}

	data, _ := json.MarshalIndent(map[string]any{
		"dataset": d,
		"rows":    rows,
	}, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// datasetIDFromURI extracts the id from "backoffice://datasets/{id}/rows".
func datasetIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, datasetsURIBase)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/rows")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
