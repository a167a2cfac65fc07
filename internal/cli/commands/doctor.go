package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/check"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/config"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/output"
	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
)

// Health check statuses.
const (
	statusPass  = "pass"
	statusWarn  = "warn"
	statusError = "error"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [dir]",
		Short: "Check that the Clafer toolchain is ready",
		Long: `Report whether the Clafer compiler can be run, which version it is, which
configuration is in effect and whether the directory holds any models.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Check the current directory
  clafer-lsp doctor

  # Output as JSON
  clafer-lsp doctor -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runDoctor(cmd, dir)
		},
	}

	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Compiler        CompilerStatus `json:"compiler"`
	Config          ConfigSummary  `json:"config"`
	HealthChecks    []HealthCheck  `json:"health_checks"`
	Recommendations []string       `json:"recommendations"`
}

// CompilerStatus is the outcome of probing the compiler.
type CompilerStatus struct {
	Path      string   `json:"path"`
	Args      []string `json:"args"`
	Available bool     `json:"available"`
	Version   string   `json:"version,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ConfigSummary lists the resolved settings.
type ConfigSummary struct {
	File        string   `json:"file,omitempty"`
	Timeout     string   `json:"timeout"`
	LanguageID  string   `json:"language_id"`
	Extensions  []string `json:"extensions"`
	Jobs        int      `json:"jobs"`
	NotifyClean bool     `json:"notify_clean"`
	LogLevel    string   `json:"log_level"`
}

// HealthCheck represents a single check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	Status string `json:"status"` // "pass", "warn", "error"
	Detail string `json:"detail"`
}

func runDoctor(cmd *cobra.Command, dir string) error {
	cc := NewCommandContext(cmd)
	out := buildDoctorOutput(cmd.Context(), cc.Cfg, cc.Compiler, dir)

	switch cc.Renderer.EffectiveMode() {
	case output.ModeJSON:
		if err := cc.Renderer.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		renderDoctorMarkdown(cc.Renderer, out)
	default:
		renderDoctorText(cc.Renderer, out)
	}

	if !out.Healthy() {
		return fmt.Errorf("%w: the compiler cannot be run", ErrProblemsFound)
	}
	return nil
}

func buildDoctorOutput(ctx context.Context, cfg *config.Config, runner *compiler.Runner, dir string) *DoctorOutput {
	avail := runner.Probe(ctx)
	out := &DoctorOutput{
		Compiler: CompilerStatus{
			Path:      avail.Path,
			Args:      runner.Args(),
			Available: avail.Available,
			Version:   avail.Version,
		},
		Config: ConfigSummary{
			File:        cfg.ConfigFile,
			Timeout:     cfg.Timeout.String(),
			LanguageID:  cfg.LanguageID,
			Extensions:  cfg.Extensions,
			Jobs:        cfg.Jobs,
			NotifyClean: cfg.NotifyClean,
			LogLevel:    cfg.LogLevel,
		},
		Recommendations: []string{},
	}

	if avail.Available {
		out.add(HealthCheck{Name: "Compiler", Group: "toolchain", Status: statusPass,
			Detail: fmt.Sprintf("%s (%s)", avail.Path, avail.Version)})
	} else {
		msg := "not found"
		if avail.Err != nil {
			msg = avail.Err.Error()
			out.Compiler.Error = msg
		}
		out.add(HealthCheck{Name: "Compiler", Group: "toolchain", Status: statusError, Detail: msg})
		out.Recommendations = append(out.Recommendations,
			"Install Clafer or set compiler_path in .clafer.yaml (or CLAFER_COMPILER_PATH)")
	}

	if cfg.ConfigFile != "" {
		out.add(HealthCheck{Name: "Config file", Group: "configuration", Status: statusPass, Detail: cfg.ConfigFile})
	} else {
		out.add(HealthCheck{Name: "Config file", Group: "configuration", Status: statusWarn,
			Detail: "none found, using defaults"})
	}

	files, err := check.Collect([]string{dir}, cfg.Extensions)
	if err != nil {
		out.add(HealthCheck{Name: "Models", Group: "workspace", Status: statusWarn, Detail: err.Error()})
		out.Recommendations = append(out.Recommendations,
			fmt.Sprintf("Add models with extension %s or adjust extensions", strings.Join(cfg.Extensions, ", ")))
	} else {
		out.add(HealthCheck{Name: "Models", Group: "workspace", Status: statusPass,
			Detail: fmt.Sprintf("%d model(s) in %s", len(files), dir)})
	}

	return out
}

func (o *DoctorOutput) add(c HealthCheck) {
	o.HealthChecks = append(o.HealthChecks, c)
}

// Healthy reports whether no check failed.
func (o *DoctorOutput) Healthy() bool {
	for _, c := range o.HealthChecks {
		if c.Status == statusError {
			return false
		}
	}
	return true
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Clafer Toolchain Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, c := range out.HealthChecks {
		if c.Group != currentGroup {
			currentGroup = c.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.StatusSuccess.String()
		switch c.Status {
		case statusWarn:
			icon = styles.Warning.Render("!")
		case statusError:
			icon = styles.StatusFailed.String()
		}
		r.Printf("   %s %s: %s\n", icon, c.Name, c.Detail)
	}
	r.Println("")

	r.Println(styles.Header2.Render("Configuration"))
	r.Table([]string{"Setting", "Value"}, configRows(out))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Header(1, "Clafer Toolchain Report")

	r.Header(2, "Health Checks")
	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, c := range out.HealthChecks {
		if c.Group != currentGroup {
			currentGroup = c.Group
			r.Println("")
			r.Header(3, titleCaser.String(currentGroup))
		}
		r.Printf("- **[%s]** %s: %s\n", strings.ToUpper(c.Status), c.Name, c.Detail)
	}
	r.Println("")

	r.Header(2, "Configuration")
	r.Table([]string{"Setting", "Value"}, configRows(out))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Header(2, "Recommendations")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}

func configRows(out *DoctorOutput) [][]string {
	file := out.Config.File
	if file == "" {
		file = "(none)"
	}
	version := out.Compiler.Version
	if !out.Compiler.Available {
		version = "(unavailable)"
	}
	return [][]string{
		{"config file", file},
		{"compiler_path", out.Compiler.Path},
		{"compiler version", version},
		{"compiler_args", strings.Join(out.Compiler.Args, " ")},
		{"timeout", out.Config.Timeout},
		{"language_id", out.Config.LanguageID},
		{"extensions", strings.Join(out.Config.Extensions, ", ")},
		{"jobs", strconv.Itoa(out.Config.Jobs)},
		{"notify_clean", strconv.FormatBool(out.Config.NotifyClean)},
		{"log_level", out.Config.LogLevel},
	}
}
