package commands

import (
	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/mcpserver"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server exposing Clafer checks",
		Long: `Start a Model Context Protocol server on stdin/stdout.

Tools:
  clafer_check   compile a model or directory and return its diagnostics
  clafer_status  report the compiler path, availability and version`,
		Example: `  # Register with an agent host
  clafer-lsp mcp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			return mcpserver.Serve(mcpserver.Options{
				Compiler:   cc.Compiler,
				Extensions: cc.Cfg.Extensions,
				Jobs:       cc.Cfg.Jobs,
				Version:    version,
				Logger:     cc.Logger,
			})
		},
	}

	return cmd
}
