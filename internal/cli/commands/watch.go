package commands

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/EthanJamesLew/clafer-vscode/internal/check"
)

// watchDebounce groups the bursts of events editors produce for one save.
const watchDebounce = 100 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Re-check Clafer models whenever they are saved",
		Long: `Check every model once, then watch the given directories and re-run the
compiler on each model that is written or created. Press Ctrl+C to stop.`,
		Example: `  # Watch the current directory
  clafer-lsp watch

  # Watch two model directories
  clafer-lsp watch models examples`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runWatch(cmd, args)
		},
	}

	return cmd
}

func runWatch(cmd *cobra.Command, dirs []string) error {
	cc := NewCommandContext(cmd)
	ctx := cmd.Context()

	if files, err := check.Collect(dirs, cc.Cfg.Extensions); err == nil {
		results, err := check.Files(ctx, cc.Compiler, files, cc.Cfg.Jobs)
		if err != nil {
			return err
		}
		_ = reportResults(cc.Renderer, results)
	} else {
		cc.Renderer.Warning(err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range dirs {
		if err := watchDirRecursive(watcher, dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	cc.Renderer.Muted(fmt.Sprintf("Watching %s for changes...", strings.Join(dirs, ", ")))

	return watchLoop(ctx, watcher, cc.Cfg.Extensions, func(paths []string) {
		cc.Logger.Debug("Files changed, re-checking", "files", paths)
		results, err := check.Files(ctx, cc.Compiler, paths, cc.Cfg.Jobs)
		if err != nil {
			return
		}
		_ = reportResults(cc.Renderer, results)
	}, cc.Logger.Error)
}

// watchLoop calls onChange with the models written or created since the last
// call, once events have been quiet for watchDebounce. onChange runs on the
// loop goroutine, so calls never overlap and the loop returns only after the
// current call finishes. New directories are added to the watcher. It returns
// nil when ctx is done.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, exts []string, onChange func([]string), logError func(string, ...any)) error {
	pending := make(map[string]bool)
	var (
		debounceTimer *time.Timer
		fire          <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-fire:
			fire = nil
			paths := slices.Sorted(maps.Keys(pending))
			clear(pending)
			if len(paths) > 0 {
				onChange(paths)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchDirRecursive(watcher, event.Name); err != nil {
						logError("failed to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !check.HasExtension(event.Name, exts) {
				continue
			}

			pending[event.Name] = true
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(watchDebounce)
			} else {
				debounceTimer.Reset(watchDebounce)
			}
			fire = debounceTimer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logError("watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
// Hidden directories are skipped.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
