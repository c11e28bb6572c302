package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"extractor/internal/etl"
	"extractor/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

const transformsHelp = `Optional JSON array of transforms applied to the canonical table before output and upload. Each transform has {type, config}. Available types:
- filter: {field, op (eq|neq|gt|lt|contains), value}: drop rows not matching
- rename: {mapping: {oldName: newName}}: rename columns
- select: {fields: ["col1","col2"]}: keep only these columns
- dedupe: {key}: keep the first row per key value
- sort: {field, direction (asc|desc)}: sort rows
- limit: {count}: cap the number of rows
Example: [{"type":"filter","config":{"field":"age","op":"gt","value":"18"}}]`

func (s *Server) registerETLTools() {
	s.mcp.AddTool(mcp.NewTool("extract_table",
		mcp.WithDescription("Run a one-off extraction: source → canonical table → optional CSV/XLSX file. Nothing is uploaded."),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as a JSON object"), mcp.Required()),
		mcp.WithString("transformsJSON", mcp.Description(transformsHelp)),
		mcp.WithString("outputPath", mcp.Description("Write the table to this .csv or .xlsx file (optional)")),
	), s.handleExtractTable)

	s.mcp.AddTool(mcp.NewTool("upload_table",
		mcp.WithDescription("🛑 Extract a source and deliver the table in batches to a saved target. Requires user approval."),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as a JSON object"), mcp.Required()),
		mcp.WithString("targetId", mcp.Description("Saved upload target ID (use list_targets)"), mcp.Required()),
		mcp.WithString("transformsJSON", mcp.Description(transformsHelp)),
		mcp.WithString("outputPath", mcp.Description("Also write the table to this .csv or .xlsx file (optional)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleUploadTable)

	s.mcp.AddTool(mcp.NewTool("create_job",
		mcp.WithDescription("Save a sync job. Jobs run manually, on a cron schedule or when a watched file changes."),
		mcp.WithString("name", mcp.Description("Job name"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as a JSON object"), mcp.Required()),
		mcp.WithString("transformsJSON", mcp.Description(transformsHelp)),
		mcp.WithString("outputPath", mcp.Description("Write the table to this .csv or .xlsx file (optional)")),
		mcp.WithString("targetId", mcp.Description("Saved upload target ID (optional)")),
		mcp.WithString("triggerType", mcp.Description("manual (default), schedule or file_watch"), mcp.Enum("manual", "schedule", "file_watch")),
		mcp.WithString("triggerConfig", mcp.Description("Cron expression for schedule, path for file_watch")),
	), s.handleCreateJob)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List saved sync jobs with their last status"),
		readOnly(),
	), s.handleListJobs)

	s.mcp.AddTool(mcp.NewTool("run_job",
		mcp.WithDescription("🛑 Execute a saved sync job. Jobs with a target upload records to the remote datasheet. Requires user approval."),
		mcp.WithString("jobId", mcp.Description("Job ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunJob)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("Page through the upload history, newest first"),
		mcp.WithNumber("limit", mcp.Description("Entries per page (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Entries to skip (default 0)")),
		readOnly(),
	), s.handleListHistory)
}

func parseSourceArgs(args map[string]any) (etl.SourceConfig, []etl.TransformConfig, error) {
	cfg := etl.SourceConfig{}
	if err := json.Unmarshal([]byte(jsonArg(args, "sourceConfigJSON")), &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse sourceConfig: %w", err)
	}
	var transforms []etl.TransformConfig
	if raw := jsonArg(args, "transformsJSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &transforms); err != nil {
			return nil, nil, fmt.Errorf("parse transforms: %w", err)
		}
	}
	return cfg, transforms, nil
}

func (s *Server) handleExtractTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.runAdhoc(ctx, req, "")
}

func (s *Server) handleUploadTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targetID := req.GetString("targetId", "")
	if targetID == "" {
		return nil, fmt.Errorf("targetId is required")
	}
	sourceType := req.GetString("sourceType", "")
	approved, err := s.approval.Request(ctx, "upload_table",
		fmt.Sprintf("Upload %s extraction to target %s", sourceType, targetID),
		fmt.Sprintf(`{"targetId":%q}`, targetID))
	if err != nil || !approved {
		return textResult("Action rejected by user"), nil
	}
	return s.runAdhoc(ctx, req, targetID)
}

func (s *Server) runAdhoc(ctx context.Context, req mcp.CallToolRequest, targetID string) (*mcp.CallToolResult, error) {
	sourceType := req.GetString("sourceType", "")
	if sourceType == "" {
		return nil, fmt.Errorf("sourceType is required")
	}
	cfg, transforms, err := parseSourceArgs(req.GetArguments())
	if err != nil {
		return nil, err
	}

	result, err := s.etl.RunAdhoc(ctx, service.AdhocRun{
		SourceType: sourceType,
		SourceCfg:  cfg,
		Transforms: transforms,
		OutputPath: req.GetString("outputPath", ""),
		TargetID:   targetID,
	})
	if result == nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	// A partial or failed delivery still has a result worth reporting.
	return jsonResult(result)
}

func (s *Server) handleCreateJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cfg, transforms, err := parseSourceArgs(args)
	if err != nil {
		return nil, err
	}
	job, err := s.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:          req.GetString("name", ""),
		SourceType:    req.GetString("sourceType", ""),
		SourceConfig:  cfg,
		Transforms:    transforms,
		OutputPath:    req.GetString("outputPath", ""),
		TargetID:      req.GetString("targetId", ""),
		TriggerType:   req.GetString("triggerType", "manual"),
		TriggerConfig: req.GetString("triggerConfig", ""),
		Enabled:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.etl.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jsonResult(jobs)
}

func (s *Server) handleRunJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("jobId", "")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	job, err := s.etl.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.TargetID != "" {
		approved, err := s.approval.Request(ctx, "run_job",
			fmt.Sprintf("Run job %q (uploads to target %s)", job.Name, job.TargetID),
			fmt.Sprintf(`{"jobId":%q}`, jobID))
		if err != nil || !approved {
			return textResult("Action rejected by user"), nil
		}
	}

	result, err := s.etl.RunJob(ctx, jobID)
	if result == nil {
		return nil, fmt.Errorf("run job: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handleListHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	limit := int(getFloat(args, "limit", 20))
	offset := int(getFloat(args, "offset", 0))
	page, err := s.etl.ListHistory(limit, offset)
	if err != nil {
		return nil, err
	}
	return jsonResult(page)
}
