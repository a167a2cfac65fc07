// Package check compiles Clafer files outside an editor session and collects
// their diagnostics.
package check

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
	"github.com/EthanJamesLew/clafer-vscode/internal/diagnostic"
)

// FileResult holds the outcome of compiling one file. Error is set when the
// compiler could not be run or produced no output; Diagnostics is then empty.
type FileResult struct {
	Path        string                  `json:"path"`
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
	Error       string                  `json:"error,omitempty"`
	Duration    time.Duration           `json:"duration_ns"`
}

// Failed reports whether the file has diagnostics or could not be checked.
func (r FileResult) Failed() bool {
	return r.Error != "" || len(r.Diagnostics) > 0
}

// Summary counts results.
type Summary struct {
	Files       int `json:"files"`
	Diagnostics int `json:"diagnostics"`
	Failures    int `json:"failures"`
}

// Summarize totals results.
func Summarize(results []FileResult) Summary {
	s := Summary{Files: len(results)}
	for _, r := range results {
		s.Diagnostics += len(r.Diagnostics)
		if r.Error != "" {
			s.Failures++
		}
	}
	return s
}

// File compiles path and maps the compiler output onto its contents.
func File(ctx context.Context, runner *compiler.Runner, path string) FileResult {
	res := FileResult{Path: path, Diagnostics: []diagnostic.Diagnostic{}}

	content, err := os.ReadFile(path) //nolint:gosec // path comes from the user
	if err != nil {
		res.Error = fmt.Sprintf("failed to read %s: %v", path, err)
		return res
	}

	out, err := runner.Run(ctx, path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Duration = out.Duration
	if diags := diagnostic.Parse(out.Stdout, diagnostic.NewText(string(content))); len(diags) > 0 {
		res.Diagnostics = diags
	}
	return res
}

// Files compiles paths with at most jobs compiler processes at once. Results
// are returned in the order of paths. The only error is ctx's.
func Files(ctx context.Context, runner *compiler.Runner, paths []string, jobs int) ([]FileResult, error) {
	results := make([]FileResult, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(paths))))

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = File(gctx, runner, path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ErrNoFiles is returned by Collect when nothing matched.
var ErrNoFiles = errors.New("no Clafer files found")

// Collect expands the given files and directories into a sorted list of
// files. Directories are walked for files with one of exts; hidden
// directories are skipped. Files named explicitly are kept whatever their
// extension.
func Collect(roots []string, exts []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot check %s: %w", root, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if HasExtension(path, exts) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	slices.Sort(files)
	return files, nil
}

// HasExtension reports whether path ends in one of exts, ignoring case.
func HasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}
