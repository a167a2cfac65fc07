package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/check"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/output"
)

// ErrProblemsFound is returned when a check reports diagnostics or failures.
var ErrProblemsFound = errors.New("problems found")

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file|dir>...",
		Short: "Compile Clafer models and report their errors",
		Long: `Run the Clafer compiler on each model and print the errors it reports.

Directories are searched recursively for files with a configured extension.
Positions are clamped into the file, as the language server does.
The command fails when any file has errors or could not be compiled.`,
		Example: `  # Check one model
  clafer-lsp check models/telematics.cfr

  # Check a directory with eight compilers in parallel, as JSON
  clafer-lsp check models --jobs 8 -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args)
		},
	}

	cmd.Flags().IntP("jobs", "j", 0, "Number of compiler processes to run at once (default from config)")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cc := NewCommandContext(cmd)

	files, err := check.Collect(args, cc.Cfg.Extensions)
	if err != nil {
		return err
	}
	cc.Logger.Debug("Checking files", "count", len(files), "jobs", cc.Cfg.Jobs)

	results, err := check.Files(cmd.Context(), cc.Compiler, files, cc.Cfg.Jobs)
	if err != nil {
		return err
	}
	return reportResults(cc.Renderer, results)
}

// reportResults renders results and returns ErrProblemsFound when any
// file failed.
func reportResults(r *output.Renderer, results []check.FileResult) error {
	summary := check.Summarize(results)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(map[string]any{"summary": summary, "files": results}); err != nil {
			return err
		}
	case output.ModeMarkdown:
		renderResultsMarkdown(r, results, summary)
	default:
		renderResultsText(r, results)
	}

	if summary.Diagnostics > 0 || summary.Failures > 0 {
		return fmt.Errorf("%w: %d error(s), %d failed run(s) in %d file(s)",
			ErrProblemsFound, summary.Diagnostics, summary.Failures, summary.Files)
	}
	if r.EffectiveMode() != output.ModeJSON {
		r.Success(fmt.Sprintf("%d file(s) checked, no errors", summary.Files))
	}
	return nil
}

// renderResultsText prints one "file:line:col: error: message" line per
// diagnostic with one-based positions.
func renderResultsText(r *output.Renderer, results []check.FileResult) {
	s := r.Styles()
	for _, res := range results {
		if res.Error != "" {
			r.Printf("%s: %s %s\n", s.FilePath.Render(res.Path), s.Error.Render("failed:"), res.Error)
			continue
		}
		for _, d := range res.Diagnostics {
			loc := fmt.Sprintf("%s:%d:%d:", res.Path, d.Line+1, d.Column+1)
			r.Printf("%s %s %s\n", s.FilePath.Render(loc), s.Error.Render(d.Severity.String()+":"), d.Message)
		}
	}
}

func renderResultsMarkdown(r *output.Renderer, results []check.FileResult, summary check.Summary) {
	r.Header(1, "Clafer check")
	r.Println(output.FormatKeyValue("Files", strconv.Itoa(summary.Files)))
	r.Println(output.FormatKeyValue("Errors", strconv.Itoa(summary.Diagnostics)))
	r.Println(output.FormatKeyValue("Failed runs", strconv.Itoa(summary.Failures)))
	r.Println()

	var rows [][]string
	var failures [][]string
	for _, res := range results {
		if res.Error != "" {
			failures = append(failures, []string{res.Path, res.Error})
			continue
		}
		for _, d := range res.Diagnostics {
			rows = append(rows, []string{
				res.Path,
				strconv.Itoa(d.Line + 1),
				strconv.Itoa(d.Column + 1),
				d.Message,
			})
		}
	}

	if len(rows) > 0 {
		r.Header(2, "Errors")
		r.Table([]string{"File", "Line", "Column", "Message"}, rows)
		r.Println()
	}
	if len(failures) > 0 {
		r.Header(2, "Failed runs")
		r.Table([]string{"File", "Error"}, failures)
		r.Println()
	}
}
