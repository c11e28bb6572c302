package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerConnectionTools() {
	s.mcp.AddTool(mcp.NewTool("list_connections",
		mcp.WithDescription("List saved database connections usable by the \"database\" source"),
		readOnly(),
	), s.handleListConnections)

	s.mcp.AddTool(mcp.NewTool("introspect_connection",
		mcp.WithDescription("Get schema information (tables and columns) of a saved connection"),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
		readOnly(),
	), s.handleIntrospectConnection)

	s.mcp.AddTool(mcp.NewTool("list_targets",
		mcp.WithDescription("List saved upload targets (remote datasheets). Tokens are never returned."),
		readOnly(),
	), s.handleListTargets)
}

func (s *Server) handleListConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.connections == nil {
		return nil, fmt.Errorf("connections are not configured")
	}
	conns, err := s.connections.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return jsonResult(conns)
}

func (s *Server) handleIntrospectConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.connections == nil {
		return nil, fmt.Errorf("connections are not configured")
	}
	connID := req.GetString("connectionId", "")
	if connID == "" {
		return nil, fmt.Errorf("connectionId is required")
	}
	schema, err := s.connections.Introspect(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return jsonResult(schema)
}

func (s *Server) handleListTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.targets == nil {
		return nil, fmt.Errorf("targets are not configured")
	}
	targets, err := s.targets.ListTargets()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return jsonResult(targets)
}
