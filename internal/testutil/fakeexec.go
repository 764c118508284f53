package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteExecutable writes a POSIX shell script named name into a temporary
// directory and returns its path. Tests calling it are skipped on Windows.
//
//	docker := testutil.WriteExecutable(t, "docker", `echo "$@"`)
func WriteExecutable(t testing.TB, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake executables need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake executable: %v", err)
	}
	return path
}
