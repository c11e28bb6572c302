package mcpserver

import (
	"encoding/json"
	"fmt"
	"log"

	"extractor/internal/service"
	"extractor/internal/storage"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// Server is the MCP server for the extractor. It exposes sources, saved
// connections, targets, jobs and the upload history to AI agents.
type Server struct {
	mcp      *server.MCPServer
	emitter  EventEmitter
	approval *ApprovalQueue

	etl         *service.ETLService
	connections *service.ConnectionService
	targets     *service.TargetService
}

// Deps holds all dependencies passed from the CLI to the MCP server.
type Deps struct {
	Emitter     EventEmitter
	ETL         *service.ETLService
	Connections *service.ConnectionService
	Targets     *service.TargetService
	// Approvals, when set, resolves run approvals across processes.
	Approvals *storage.ApprovalStore
	// AutoApprove skips approval for runs that deliver data.
	AutoApprove bool
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = service.LogEmitter{}
	}
	approval := NewApprovalQueue(emitter)
	if deps.Approvals != nil {
		approval.SetStore(deps.Approvals)
	}
	approval.SetAutoApprove(deps.AutoApprove)

	s := &Server{
		emitter:     emitter,
		approval:    approval,
		etl:         deps.ETL,
		connections: deps.Connections,
		targets:     deps.Targets,
	}

	s.mcp = server.NewMCPServer(
		"extractor-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerSourceTools()
	s.registerConnectionTools()
	s.registerETLTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCP returns the underlying server, for in-process clients and tests.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// Approve forwards a user approval to the approval queue.
func (s *Server) Approve(actionID string) {
	s.approval.Approve(actionID)
}

// Reject forwards a user rejection to the approval queue.
func (s *Server) Reject(actionID string) {
	s.approval.Reject(actionID)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// jsonArg returns a JSON argument that clients may send either as a string
// or as a raw JSON value.
func jsonArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func boolPtr(v bool) *bool { return &v }

func readOnly() mcp.ToolOption {
	return mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)})
}
