package execsvc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skillbox/skillbox/internal/approval"
	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/manifest"
	"github.com/skillbox/skillbox/internal/sandbox"
)

func writeSkill(t *testing.T, body string) manifest.Skill {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("---\nname: echo-skill\nentry_point: scripts/main.sh\n---\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(dir, "scripts", "main.sh")
	if err := os.WriteFile(entry, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	skill, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	skill.Language = manifest.LangBash
	return skill
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	sink := audit.NewFromPaths(filepath.Join(t.TempDir(), "audit.jsonl"), "")
	gate := approval.NewGate(approval.NewCache(approval.DefaultTTL, nil), nil, sink, nil)
	return NewServiceForTest(gate, sandbox.NewLauncher(nil), sink)
}

func TestExecute_SafeSkillSucceedsAtLevelOne(t *testing.T) {
	skill := writeSkill(t, "#!/bin/sh\necho '{\"greeting\":\"hi\"}'\n")
	svc := newTestService(t)

	ctx := Context{SandboxLevel: LevelNone, TimeoutSeconds: 5, MaxMemoryMB: 128}
	result := svc.Execute(skill, map[string]any{"name": "World"}, ctx, nil, "")

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	m, ok := result.Output.(map[string]any)
	if !ok || m["greeting"] != "hi" {
		t.Fatalf("output = %#v", result.Output)
	}
}

func TestExecute_ElevatedSkillBypassesSandboxLevel(t *testing.T) {
	skill := writeSkill(t, "#!/bin/sh\necho '{}'\n")
	skill.RequiresElevatedPermissions = true
	svc := newTestService(t)

	ctx := Context{SandboxLevel: LevelScanAndConfirm, TimeoutSeconds: 5, MaxMemoryMB: 128}
	result := svc.Execute(skill, map[string]any{}, ctx, nil, "")

	if result.ScanResult != nil {
		t.Fatalf("elevated skills must skip the scan step entirely")
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestExecute_HighSeverityWithoutCallbackBlocksScan(t *testing.T) {
	skill := writeSkill(t, "#!/bin/sh\ncat /etc/shadow\n")
	svc := newTestService(t)

	ctx := Context{SandboxLevel: LevelScanAndConfirm, TimeoutSeconds: 5, MaxMemoryMB: 128}
	result := svc.Execute(skill, map[string]any{}, ctx, nil, "")

	if result.Success {
		t.Fatalf("expected failure for risky skill with no callback")
	}
	if result.ScanResult == nil || result.ScanResult.HighCount == 0 {
		t.Fatalf("expected a High issue from the scan: %+v", result.ScanResult)
	}
}

func TestExecute_ApprovedRiskySkillRunsAtLevelOne(t *testing.T) {
	skill := writeSkill(t, "#!/bin/sh\ncat /etc/shadow 2>/dev/null; echo '{}'\n")
	svc := newTestService(t)

	ctx := Context{SandboxLevel: LevelScanAndConfirm, TimeoutSeconds: 5, MaxMemoryMB: 128}
	called := false
	result := svc.Execute(skill, map[string]any{}, ctx, func(report, scanID string) bool {
		called = true
		return true
	}, "")

	if !called {
		t.Fatalf("expected confirmation callback to be invoked")
	}
	if result.ScanResult == nil {
		t.Fatalf("expected a scan result to be attached")
	}
	if result.Backend != sandbox.BackendRlimit {
		t.Fatalf("backend = %v, want rlimit fallback for Level 1", result.Backend)
	}
}

func TestCancel_UnknownIDReturnsFalse(t *testing.T) {
	svc := newTestService(t)
	if svc.Cancel("does-not-exist") {
		t.Fatalf("expected Cancel to report false for an unregistered id")
	}
}
