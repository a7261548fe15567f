package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoprogress/internal/conditions"
	"github.com/rendis/autoprogress/internal/engine"
	"github.com/rendis/autoprogress/internal/store"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Store      store.Store
	Progressor *engine.Progressor
	Checker    *conditions.Checker
	Logger     *slog.Logger
	Version    string
}

// Server wraps an MCP server with the auto-progression tool handlers.
type Server struct {
	store      store.Store
	progressor *engine.Progressor
	checker    *conditions.Checker
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewServer creates a Server with its tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	checker := deps.Checker
	if checker == nil {
		checker = conditions.NewChecker(conditions.WithLogger(logger))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:      deps.Store,
		progressor: deps.Progressor,
		checker:    checker,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"autoprogress",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autoprogress advances workflow instances whose current step condition is met by the attached record. Use autoprogress.evaluate to test a condition against attributes, autoprogress.check to preview or apply progression for a record, autoprogress.instance to inspect a workflow instance, and autoprogress.diagram to draw a workflow with its progress."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	return s
}

// Serve runs the MCP server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP stdio server")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
		{Tool: checkTool(), Handler: s.handleCheck},
		{Tool: instanceTool(), Handler: s.handleInstance},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

func evaluateTool() mcp.Tool {
	return mcp.NewTool("autoprogress.evaluate",
		mcp.WithDescription("Evaluate a condition expression against a set of record attributes"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Condition, e.g. \"status = approved AND score <= 10\"")),
		mcp.WithString("dialect",
			mcp.Enum("condition", "expr", "cel", "jq"),
			mcp.Description("Expression dialect (default: condition)"),
		),
		mcp.WithObject("attributes", mcp.Required(), mcp.Description("Record attributes the expression reads")),
		mcp.WithString("entity_type", mcp.Description("Record type name exposed to the expression")),
	)
}

func checkTool() mcp.Tool {
	return mcp.NewTool("autoprogress.check",
		mcp.WithDescription("Check a record against its workflow instance and advance the current step when ready"),
		mcp.WithString("entity_type", mcp.Required(), mcp.Description("Record type name")),
		mcp.WithObject("record", mcp.Required(), mcp.Description("Record attributes, including its id. Send the object JSON-encoded as a string to keep integer ids above 2^53 exact")),
		mcp.WithString("actor_id", mcp.Description("Actor recorded on the approval (default: system)")),
		mcp.WithString("actor_name", mcp.Description("Display name of the actor")),
		mcp.WithBoolean("dry_run", mcp.Description("Evaluate without saving (default: false)")),
	)
}

func instanceTool() mcp.Tool {
	return mcp.NewTool("autoprogress.instance",
		mcp.WithDescription("Get a workflow instance by id or by the record it is attached to"),
		mcp.WithString("instance_id", mcp.Description("Instance ID")),
		mcp.WithString("entity_type", mcp.Description("Record type name (with entity_id)")),
		mcp.WithString("entity_id", mcp.Description("Record ID (with entity_type)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("autoprogress.diagram",
		mcp.WithDescription("Draw a workflow as ASCII art or a Mermaid flowchart, with instance progress when an instance is given"),
		mcp.WithString("workflow_id", mcp.Description("Workflow ID to draw")),
		mcp.WithString("instance_id", mcp.Description("Instance ID to draw with its progress")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format: ascii (text) or mermaid (flowchart syntax)"),
		),
	)
}
