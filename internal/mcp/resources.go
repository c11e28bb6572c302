package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	jobsURI       = "extractor://jobs"
	historyURI    = "extractor://history"
	jobRunsPrefix = "extractor://job/"
	jobRunsSuffix = "/runs"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(
		jobsURI,
		"All Sync Jobs",
		mcp.WithMIMEType("application/json"),
	), s.handleJobsResource)

	s.mcp.AddResource(mcp.NewResource(
		historyURI,
		"Recent Upload History",
		mcp.WithMIMEType("application/json"),
	), s.handleHistoryResource)

	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			jobRunsPrefix+"{jobId}"+jobRunsSuffix,
			"Runs of a Sync Job",
		),
		s.handleJobRunsResource,
	)
}

func (s *Server) handleJobsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jobs, err := s.etl.ListJobs()
	if err != nil {
		return nil, err
	}

	type jobSummary struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		SourceType string `json:"sourceType"`
		Trigger    string `json:"trigger"`
		LastStatus string `json:"lastStatus"`
	}
	summaries := make([]jobSummary, len(jobs))
	for i, j := range jobs {
		summaries[i] = jobSummary{ID: j.ID, Name: j.Name, SourceType: j.SourceType, Trigger: j.TriggerType, LastStatus: j.LastStatus}
	}
	return jsonResource(jobsURI, summaries)
}

func (s *Server) handleHistoryResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	page, err := s.etl.ListHistory(50, 0)
	if err != nil {
		return nil, err
	}
	return jsonResource(historyURI, page)
}

func (s *Server) handleJobRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	jobID := jobIDFromURI(uri)
	if jobID == "" {
		return nil, fmt.Errorf("could not extract jobId from URI: %s", uri)
	}
	runs, err := s.etl.ListRunLogs(jobID)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, runs)
}

// jobIDFromURI extracts the job id from "extractor://job/{id}/runs".
func jobIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, jobRunsPrefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, jobRunsSuffix)
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
