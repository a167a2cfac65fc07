// Package mcpserver exposes Clafer checks as MCP tools for agent hosts.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/EthanJamesLew/clafer-vscode/internal/check"
	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
)

// ServerName is reported to MCP clients.
const ServerName = "clafer-mcp"

var errMissingPath = errors.New("path is required")

// Options configures the tools.
type Options struct {
	Compiler   *compiler.Runner
	Extensions []string
	Jobs       int
	Version    string
	Logger     *slog.Logger
}

// ToolDef pairs a tool with its handler.
type ToolDef struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// Response is the JSON body of every tool result.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New creates an MCP server with the Clafer tools registered.
func New(opts Options) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		opts.Version,
		server.WithToolCapabilities(true),
	)
	for _, td := range Tools(opts) {
		s.AddTool(td.Tool, td.Handler)
	}
	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(opts Options) error {
	return server.ServeStdio(New(opts))
}

// Tools returns the tool definitions.
func Tools(opts Options) []ToolDef {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Compiler == nil {
		opts.Compiler = compiler.New(compiler.Options{Logger: opts.Logger})
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".cfr"}
	}
	opts.Jobs = max(1, opts.Jobs)

	return []ToolDef{
		{
			Tool: mcp.NewTool("clafer_check",
				mcp.WithDescription("Compile Clafer models and return their diagnostics with zero-based line and column"),
				mcp.WithString("path", mcp.Required(), mcp.Description("A .cfr file or a directory to search for .cfr files")),
			),
			Handler: checkHandler(opts),
		},
		{
			Tool: mcp.NewTool("clafer_status",
				mcp.WithDescription("Report whether the Clafer compiler is installed and which version it is"),
			),
			Handler: statusHandler(opts),
		},
	}
}

func checkHandler(opts Options) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := request.GetString("path", "")
		if path == "" {
			return mcp.NewToolResultText(errorResponse(errMissingPath)), nil
		}

		files, err := check.Collect([]string{path}, opts.Extensions)
		if err != nil {
			return mcp.NewToolResultText(errorResponse(err)), nil
		}
		opts.Logger.Debug("MCP check", "path", path, "files", len(files))

		results, err := check.Files(ctx, opts.Compiler, files, opts.Jobs)
		if err != nil {
			return mcp.NewToolResultText(errorResponse(err)), nil
		}
		return mcp.NewToolResultText(successResponse(map[string]any{
			"summary": check.Summarize(results),
			"files":   results,
		})), nil
	}
}

func statusHandler(opts Options) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		avail := opts.Compiler.Probe(ctx)
		status := map[string]any{
			"path":       avail.Path,
			"available":  avail.Available,
			"version":    avail.Version,
			"args":       opts.Compiler.Args(),
			"extensions": opts.Extensions,
		}
		if avail.Err != nil {
			status["error"] = avail.Err.Error()
		}
		return mcp.NewToolResultText(successResponse(status)), nil
	}
}

func successResponse(data any) string {
	b, _ := json.Marshal(Response{Success: true, Data: data})
	return string(b)
}

func errorResponse(err error) string {
	b, _ := json.Marshal(Response{Success: false, Error: err.Error()})
	return string(b)
}
