package commands

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/lsp"
)

// NewLSPCommand creates the lsp command.
func NewLSPCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start the LSP server for editor integration.

The server communicates over stdin/stdout using JSON-RPC. Saving a Clafer
document runs the compiler on the file and publishes its errors as
diagnostics. The compiler path and arguments can be changed by the client
through workspace/didChangeConfiguration under the "clafer" section.`,
		Example: `  # Start LSP server (usually called by an editor)
  clafer-lsp lsp

  # Use a compiler outside PATH
  clafer-lsp lsp --compiler-path /opt/clafer/bin/clafer`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd, os.Stdin, os.Stdout, version)
		},
	}

	cmd.Flags().Bool("notify-clean", true, "Show a message when a check finds no errors")

	return cmd
}

func runLSP(cmd *cobra.Command, in io.Reader, out io.Writer, version string) error {
	cc := NewCommandContext(cmd)
	server := lsp.NewServer(in, out, lsp.Options{
		Compiler:    cc.Compiler,
		LanguageID:  cc.Cfg.LanguageID,
		Extensions:  cc.Cfg.Extensions,
		NotifyClean: cc.Cfg.NotifyClean,
		Version:     version,
		Logger:      cc.Logger,
	})

	err := server.Run(cmd.Context())
	if errors.Is(err, lsp.ErrExit) {
		return nil
	}
	return err
}
