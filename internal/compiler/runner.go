// Package compiler invokes the external Clafer compiler.
package compiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultPath is the compiler looked up on PATH when none is configured.
const DefaultPath = "clafer"

var (
	// ErrToolFailed reports a compiler run that failed without writing anything to stdout.
	ErrToolFailed = errors.New("compiler failed")
	// ErrNotFound reports that the compiler binary could not be started.
	ErrNotFound = errors.New("compiler not found")
)

// ExecError describes a failed compiler run with no usable output.
type ExecError struct {
	Path     string
	ExitCode int // -1 when the process never started or was killed
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Path, e.Err)
	if line := firstLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Is matches ErrToolFailed for every ExecError and ErrNotFound when the
// binary could not be located.
func (e *ExecError) Is(target error) bool {
	switch target {
	case ErrToolFailed:
		return true
	case ErrNotFound:
		return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
	}
	return false
}

// Result is the captured output of a compiler run. ExitErr is set when the
// process failed but still printed to stdout; the output is parsed anyway.
type Result struct {
	Stdout   string
	Stderr   string
	ExitErr  error
	Duration time.Duration
}

// Availability is the outcome of probing the compiler with --version.
type Availability struct {
	Path      string
	Available bool
	Version   string
	Err       error
}

// Options configures a Runner.
type Options struct {
	Path    string        // compiler binary; DefaultPath when empty
	Args    []string      // extra arguments placed before the file path
	Timeout time.Duration // per-run limit; zero means none
	Logger  *slog.Logger
}

// Runner runs the compiler and remembers whether it is installed.
type Runner struct {
	mu      sync.Mutex
	path    string
	args    []string
	timeout time.Duration
	logger  *slog.Logger

	probed bool
	avail  Availability
}

// New creates a Runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	return &Runner{
		path:    path,
		args:    append([]string(nil), opts.Args...),
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Path returns the configured compiler binary.
func (r *Runner) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Args returns a copy of the extra compiler arguments.
func (r *Runner) Args() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.args...)
}

// Configure replaces the compiler path and extra arguments. A different path
// discards the cached availability so the next Probe runs again.
func (r *Runner) Configure(path string, args []string) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if path != r.path {
		r.probed = false
		r.avail = Availability{}
	}
	r.path = path
	r.args = append([]string(nil), args...)
}

// Reset forgets the cached availability.
func (r *Runner) Reset() {
	r.mu.Lock()
	r.probed = false
	r.avail = Availability{}
	r.mu.Unlock()
}

// Probe runs "<tool> --version" the first time it is called and returns the
// cached result afterwards. The probe is bounded by the run timeout. A probe
// cut short by cancellation or a deadline is returned but not cached.
func (r *Runner) Probe(ctx context.Context) Availability {
	r.mu.Lock()
	if r.probed {
		avail := r.avail
		r.mu.Unlock()
		return avail
	}
	path := r.path
	timeout := r.timeout
	r.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	avail := Availability{Path: path}
	stdout, stderr, err := r.exec(ctx, path, []string{"--version"}, "")
	if err != nil {
		avail.Err = &ExecError{Path: path, ExitCode: exitCode(err), Stderr: stderr, Err: err}
		r.logger.Warn("Compiler probe failed", "path", path, "error", err)
	} else {
		avail.Available = true
		avail.Version = firstLine(stdout)
		if avail.Version == "" {
			avail.Version = firstLine(stderr)
		}
		r.logger.Info("Compiler available", "path", path, "version", avail.Version)
	}

	if ctx.Err() != nil {
		return avail
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A Configure during the probe wins over a stale result.
	if r.path == path {
		r.probed = true
		r.avail = avail
	}
	return avail
}

// Run compiles filePath. It returns an *ExecError only when the process
// failed and printed nothing on stdout.
func (r *Runner) Run(ctx context.Context, filePath string) (*Result, error) {
	if abs, err := filepath.Abs(filePath); err == nil {
		filePath = abs
	}

	r.mu.Lock()
	path := r.path
	args := append(append([]string(nil), r.args...), filePath)
	timeout := r.timeout
	r.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, err := r.exec(ctx, path, args, filepath.Dir(filePath))
	res := &Result{
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	r.logger.Debug("Compiler finished", "path", path, "file", filePath,
		"duration", res.Duration, "stdout_bytes", len(stdout), "error", err)

	if err != nil {
		if stdout == "" {
			return nil, &ExecError{Path: path, ExitCode: exitCode(err), Stderr: stderr, Err: err}
		}
		res.ExitErr = err
	}
	return res, nil
}

func (r *Runner) exec(ctx context.Context, path string, args []string, dir string) (string, string, error) {
	// A relative binary path would otherwise resolve against dir.
	if filepath.Base(path) != path {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	// Children of a killed compiler may keep the pipes open.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
