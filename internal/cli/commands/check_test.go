package commands

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanJamesLew/clafer-vscode/internal/check"
	"github.com/EthanJamesLew/clafer-vscode/internal/cli/testutil"
	"github.com/EthanJamesLew/clafer-vscode/internal/diagnostic"
)

const syntaxErrorCompiler = `case "$1" in
*broken*) echo "syntax error at line 2 before x" ;;
esac`

func TestRunCheck_Text(t *testing.T) {
	dir := testutil.SetupTestProject(t, map[string]string{
		"ok.cfr":     "A\n",
		"broken.cfr": "a\nb x\n",
	})
	cmd, out, _ := newTestCommand(t, testConfig(t, syntaxErrorCompiler, "text"))

	err := runCheck(cmd, []string{dir})

	require.ErrorIs(t, err, ErrProblemsFound)
	assert.Contains(t, err.Error(), "1 error(s)")
	testutil.AssertNoANSI(t, out.String())
	assert.Equal(t,
		filepath.Join(dir, "broken.cfr")+":2:1: error: syntax error at line 2 before x\n",
		out.String())
}

func TestRunCheck_CleanJSON(t *testing.T) {
	dir := testutil.SetupTestProject(t, map[string]string{"ok.cfr": "A\n"})
	cmd, out, errOut := newTestCommand(t, testConfig(t, syntaxErrorCompiler, "json"))

	require.NoError(t, runCheck(cmd, []string{filepath.Join(dir, "ok.cfr")}))

	var got struct {
		Summary check.Summary      `json:"summary"`
		Files   []check.FileResult `json:"files"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, check.Summary{Files: 1}, got.Summary)
	require.Len(t, got.Files, 1)
	assert.Empty(t, got.Files[0].Diagnostics)
	assert.Empty(t, errOut.String(), "JSON mode prints nothing besides the document")
}

func TestRunCheck_NoFiles(t *testing.T) {
	dir := testutil.SetupTestProject(t, map[string]string{"readme.md": "# hi\n"})
	cmd, _, _ := newTestCommand(t, testConfig(t, `true`, "text"))

	err := runCheck(cmd, []string{dir})
	assert.ErrorIs(t, err, check.ErrNoFiles)
}

func TestReportResults_Markdown(t *testing.T) {
	tr := testutil.NewTestRendererMarkdown()
	results := []check.FileResult{
		{
			Path: "models/a.cfr",
			Diagnostics: []diagnostic.Diagnostic{{
				Line: 4, Column: 1, EndColumn: 7,
				Message:  "Compile error at line 5 column 2...",
				Severity: diagnostic.SeverityError,
			}},
		},
		{Path: "models/b.cfr", Error: "clafer: exit status 1"},
		{Path: "models/c.cfr", Diagnostics: []diagnostic.Diagnostic{}},
	}

	err := reportResults(tr.Renderer, results)

	require.ErrorIs(t, err, ErrProblemsFound)
	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Clafer check")
	assert.Contains(t, out, "- **Files:** 3")
	assert.Contains(t, out, "- **Errors:** 1")
	assert.Contains(t, out, "- **Failed runs:** 1")
	assert.Contains(t, out, "| models/a.cfr | 5 | 2 | Compile error at line 5 column 2... |")
	assert.Contains(t, out, "| models/b.cfr | clafer: exit status 1 |")
	assert.NotContains(t, out, "c.cfr")
}

func TestReportResults_TextClean(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	tr := testutil.NewTestRendererText()

	err := reportResults(tr.Renderer, []check.FileResult{{Path: "a.cfr"}, {Path: "b.cfr"}})

	require.NoError(t, err)
	assert.Empty(t, tr.Output())
	assert.Contains(t, tr.ErrorOutput(), "2 file(s) checked, no errors")
}

func TestReportResults_TextFailure(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	tr := testutil.NewTestRendererText()

	err := reportResults(tr.Renderer, []check.FileResult{{Path: "a.cfr", Error: "compiler not found"}})

	require.ErrorIs(t, err, ErrProblemsFound)
	assert.True(t, strings.HasPrefix(tr.Output(), "a.cfr: failed: compiler not found"))
}
