package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// defaultPreviewRows caps preview_source when maxRows is absent.
const defaultPreviewRows = 20

func (s *Server) registerSourceTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available source types with their configuration fields"),
		readOnly(),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Extract a source and return the first rows of its canonical string table. Nothing is written or uploaded."),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources to see available types)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as a JSON object"), mcp.Required()),
		mcp.WithNumber("maxRows", mcp.Description("Rows to return (default 20)")),
		readOnly(),
	), s.handlePreviewSource)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.etl.ListSources())
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sourceType := req.GetString("sourceType", "")
	cfgJSON := jsonArg(args, "sourceConfigJSON")
	if sourceType == "" || cfgJSON == "" {
		return nil, fmt.Errorf("sourceType and sourceConfigJSON are required")
	}
	maxRows := int(getFloat(args, "maxRows", defaultPreviewRows))

	preview, err := s.etl.PreviewSource(ctx, sourceType, cfgJSON, maxRows)
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}
	return jsonResult(preview)
}
