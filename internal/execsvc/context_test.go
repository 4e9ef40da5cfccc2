package execsvc

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	ctx := FromEnv()
	if ctx.SandboxLevel != LevelScanAndConfirm {
		t.Fatalf("default sandbox level = %v, want 3", ctx.SandboxLevel)
	}
	if ctx.TimeoutSeconds != defaultTimeoutSeconds {
		t.Fatalf("default timeout = %d", ctx.TimeoutSeconds)
	}
	if ctx.MaxMemoryMB != defaultMaxMemoryMB {
		t.Fatalf("default memory = %d", ctx.MaxMemoryMB)
	}
	if ctx.AllowNetwork || ctx.AutoApprove {
		t.Fatalf("expected network/auto-approve off by default")
	}
}

func TestParseTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "On"} {
		if !parseTruthy(v) {
			t.Errorf("parseTruthy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "garbage"} {
		if parseTruthy(v) {
			t.Errorf("parseTruthy(%q) = true, want false", v)
		}
	}
}

func TestWithUserConfirmation_DowngradesToLevelOne(t *testing.T) {
	ctx := Context{SandboxLevel: LevelScanAndConfirm}
	next := ctx.WithUserConfirmation("scan-1")
	if next.SandboxLevel != LevelNone {
		t.Fatalf("level = %v, want 1 after user confirmation", next.SandboxLevel)
	}
	if !next.Confirmed || next.ScanID != "scan-1" {
		t.Fatalf("confirmed/scan_id not set correctly: %+v", next)
	}
	if ctx.SandboxLevel != LevelScanAndConfirm {
		t.Fatalf("original context was mutated")
	}
}

func TestWithScanPassedNoPrompt_DowngradesToLevelTwo(t *testing.T) {
	ctx := Context{SandboxLevel: LevelScanAndConfirm}
	next := ctx.WithScanPassedNoPrompt("scan-2")
	if next.SandboxLevel != LevelIsolate {
		t.Fatalf("level = %v, want 2", next.SandboxLevel)
	}
}

func TestWithElevatedPermissions_BypassesSandboxButFlags(t *testing.T) {
	ctx := Context{SandboxLevel: LevelScanAndConfirm}
	next := ctx.WithElevatedPermissions()
	if next.SandboxLevel != LevelNone || !next.RequiresElevated {
		t.Fatalf("elevated context = %+v", next)
	}
}

func TestWithOverride_OnlyAppliesNonNilFields(t *testing.T) {
	base := Context{SandboxLevel: LevelScanAndConfirm, TimeoutSeconds: 120}
	lvl := LevelIsolate
	next := base.WithOverride(Override{SandboxLevel: &lvl})
	if next.SandboxLevel != LevelIsolate {
		t.Fatalf("level override not applied")
	}
	if next.TimeoutSeconds != 120 {
		t.Fatalf("timeout should be untouched, got %d", next.TimeoutSeconds)
	}
}
