package commands

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanJamesLew/clafer-vscode/internal/cli/config"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/testutil"
	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
)

func TestBuildDoctorOutput(t *testing.T) {
	dir := testutil.SetupTestProject(t, map[string]string{"a.cfr": "A\n", "sub/b.cfr": "B\n"})
	bin := writeCompiler(t, `echo "Clafer v0.4.5"`)

	tests := []struct {
		name        string
		compiler    string
		configFile  string
		dir         string
		wantHealthy bool
		wantStatus  map[string]string
		wantRecs    int
	}{
		{
			name:        "all good",
			compiler:    bin,
			configFile:  "/work/.clafer.yaml",
			dir:         dir,
			wantHealthy: true,
			wantStatus:  map[string]string{"Compiler": statusPass, "Config file": statusPass, "Models": statusPass},
		},
		{
			name:        "missing compiler",
			compiler:    filepath.Join(t.TempDir(), "clafer"),
			dir:         dir,
			wantHealthy: false,
			wantStatus:  map[string]string{"Compiler": statusError, "Config file": statusWarn, "Models": statusPass},
			wantRecs:    1,
		},
		{
			name:        "no models",
			compiler:    bin,
			dir:         t.TempDir(),
			wantHealthy: true,
			wantStatus:  map[string]string{"Compiler": statusPass, "Config file": statusWarn, "Models": statusWarn},
			wantRecs:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ConfigFile = tt.configFile
			runner := compiler.New(compiler.Options{Path: tt.compiler})

			out := buildDoctorOutput(context.Background(), cfg, runner, tt.dir)

			assert.Equal(t, tt.wantHealthy, out.Healthy())
			assert.Len(t, out.Recommendations, tt.wantRecs)
			got := make(map[string]string)
			for _, c := range out.HealthChecks {
				got[c.Name] = c.Status
			}
			assert.Equal(t, tt.wantStatus, got)
			assert.Equal(t, tt.compiler, out.Compiler.Path)
			if tt.wantHealthy {
				assert.Equal(t, "Clafer v0.4.5", out.Compiler.Version)
			} else {
				assert.NotEmpty(t, out.Compiler.Error)
			}
		})
	}
}

func TestRenderDoctor(t *testing.T) {
	cfg := config.Default()
	dir := testutil.SetupTestProject(t, map[string]string{"a.cfr": "A\n"})
	out := buildDoctorOutput(context.Background(), cfg,
		compiler.New(compiler.Options{Path: filepath.Join(t.TempDir(), "clafer")}), dir)

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		renderDoctorMarkdown(tr.Renderer, out)

		md := tr.Output()
		testutil.AssertNoANSI(t, md)
		testutil.AssertValidMarkdown(t, md)
		assert.Contains(t, md, "# Clafer Toolchain Report")
		assert.Contains(t, md, "### Toolchain")
		assert.Contains(t, md, "- **[ERROR]** Compiler:")
		assert.Contains(t, md, "| compiler_path |")
		assert.Contains(t, md, "(unavailable)")
		assert.Contains(t, md, "1. Install Clafer")
	})

	t.Run("text", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		tr := testutil.NewTestRendererText()
		renderDoctorText(tr.Renderer, out)

		text := tr.Output()
		testutil.AssertNoANSI(t, text)
		assert.Contains(t, text, "Clafer Toolchain Report")
		assert.Contains(t, text, "Workspace")
		assert.Contains(t, text, "✗ Compiler:")
		assert.Contains(t, text, "notify_clean")
	})
}

func TestRunDoctor_JSON(t *testing.T) {
	cfg := testConfig(t, `echo "Clafer v0.4.5"`, "json")
	dir := testutil.SetupTestProject(t, map[string]string{"a.cfr": "A\n"})
	cmd, stdout, _ := newTestCommand(t, cfg)

	require.NoError(t, runDoctor(cmd, dir))

	var got DoctorOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.True(t, got.Compiler.Available)
	assert.Equal(t, cfg.Jobs, got.Config.Jobs)
	assert.Len(t, got.HealthChecks, 3)
}

func TestRunDoctor_UnhealthyFails(t *testing.T) {
	cfg := config.Default()
	cfg.CompilerPath = filepath.Join(t.TempDir(), "clafer")
	cfg.OutputFormat = "markdown"
	cmd, _, _ := newTestCommand(t, cfg)

	assert.ErrorIs(t, runDoctor(cmd, t.TempDir()), ErrProblemsFound)
}
