package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/cli/config"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/output"
	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Compiler *compiler.Runner
	Renderer *output.Renderer
}

// NewCommandContext builds the dependencies of a command from the config and
// logger that the root command stored in its context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)

	return &CommandContext{
		Cfg:    cfg,
		Logger: logger,
		Compiler: compiler.New(compiler.Options{
			Path:    cfg.CompilerPath,
			Args:    cfg.CompilerArgs,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}
