package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLauncher_LevelNoneRunsUnsandboxed(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "main.sh")
	if err := os.WriteFile(entry, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLauncher(nil)
	result, err := l.Launch(Request{
		Interpreter:    "/bin/sh",
		EntryPath:      entry,
		SkillRoot:      dir,
		Level:          LevelNone,
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Backend != BackendRlimit {
		t.Fatalf("backend = %v, want rlimit fallback for Level 1", result.Backend)
	}
	if result.State != StateExited {
		t.Fatalf("state = %v, want Exited", result.State)
	}
}

func TestLauncher_NoAvailableBackendFailsClosed(t *testing.T) {
	l := &Launcher{backends: nil}
	_, err := l.Launch(Request{Level: LevelIsolate})
	if err == nil {
		t.Fatalf("expected error when no backend is available")
	}
}
