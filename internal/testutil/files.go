package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteFile writes content to name inside a fresh temp dir and returns the absolute path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// WriteFakeCompiler writes an executable POSIX shell script standing in for
// the clafer binary. The script body receives the compiler's arguments.
// The test is skipped on Windows.
func WriteFakeCompiler(t testing.TB, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compilers are POSIX shell scripts")
	}
	path := filepath.Join(t.TempDir(), "clafer")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil { //nolint:gosec // test script must be executable
		t.Fatalf("failed to write fake compiler: %v", err)
	}
	return path
}
