package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("sync_pipeline",
		mcp.WithPromptDescription("Set up a source → datasheet sync job"),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Source type (e.g. csv_file, http, database)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("description",
			mcp.ArgumentDescription("What this pipeline does"),
			mcp.RequiredArgument(),
		),
	), s.handleSyncPipelinePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("investigate_failure",
		mcp.WithPromptDescription("Find out why recent uploads failed or were partial"),
	), s.handleInvestigateFailurePrompt)
}

func (s *Server) handleSyncPipelinePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sourceType := req.Params.Arguments["sourceType"]
	description := req.Params.Arguments["description"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Set up a %s sync pipeline", sourceType),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Set up a sync pipeline: %s. Follow these steps:

1. Use list_sources to read the configuration fields of source type "%s"
2. Use preview_source with a candidate config and check the headers and first rows
3. Use list_targets to pick the datasheet the rows should go to
4. Use create_job with the config, any transforms, and the chosen targetId
5. Run it once with run_job and report rowsRead, rowsDelivered and any failed batches`, description, sourceType),
				},
			},
		},
	}, nil
}

func (s *Server) handleInvestigateFailurePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Investigate failed or partial uploads",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: `Investigate recent upload problems:

1. Use list_history and find entries with status "error" or "partial"
2. For partial runs, compare totalBatches and failedBatches and read the error text
3. Use list_jobs to find the job behind each entry and preview_source with its config
4. Summarize the cause per job and suggest a fix (field map, batch size, token, source config)`,
				},
			},
		},
	}, nil
}
