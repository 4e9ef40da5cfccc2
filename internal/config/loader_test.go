package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbox.yaml")
	yamlContent := `
server:
  port: 8080
  log_level: debug
audit:
  log_path: ./audit.jsonl
approval:
  store_backend: sqlite
  sqlite_path: ./approvals.db
skills_dir: ./my-skills
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg := l.Get()
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != "debug" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Approval.StoreBackend != "sqlite" {
		t.Fatalf("approval.store_backend = %q", cfg.Approval.StoreBackend)
	}
	if cfg.SkillsDir != "./my-skills" {
		t.Fatalf("skills_dir = %q", cfg.SkillsDir)
	}
	// Fields absent from the file keep Default()'s values.
	if cfg.Sandbox.DefaultTimeoutSeconds != 120 {
		t.Fatalf("sandbox default timeout = %d", cfg.Sandbox.DefaultTimeoutSeconds)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	l := NewLoader()
	cfg := l.Get()
	if cfg.Server.Port != 6787 {
		t.Fatalf("default port = %d", cfg.Server.Port)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	l := NewLoader()
	if err := l.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [this is not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader()
	if err := l.Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoader_FilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbox.yaml")
	if err := os.WriteFile(path, []byte("skills_dir: ./skills\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader()
	if l.FilePath() != "" {
		t.Fatalf("expected empty path before Load")
	}
	if err := l.Load(path); err != nil {
		t.Fatal(err)
	}
	if l.FilePath() != path {
		t.Fatalf("FilePath() = %q, want %q", l.FilePath(), path)
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbox.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 1111\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader()
	if err := l.Load(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("server:\n  port: 2222\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	if l.Get().Server.Port != 2222 {
		t.Fatalf("port after reload = %d", l.Get().Server.Port)
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	os.Setenv("TEST_SKILLBOX_CFG_PORT", "7777")
	defer os.Unsetenv("TEST_SKILLBOX_CFG_PORT")

	dir := t.TempDir()
	path := filepath.Join(dir, "skillbox.yaml")
	yamlContent := "server:\n  port: ${TEST_SKILLBOX_CFG_PORT}\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader()
	if err := l.Load(path); err != nil {
		t.Fatal(err)
	}
	if l.Get().Server.Port != 7777 {
		t.Fatalf("port = %d, want 7777", l.Get().Server.Port)
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbox.yaml")
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		t.Fatalf("generated config missing or empty: %v", err)
	}
	l := NewLoader()
	if err := l.Load(path); err != nil {
		t.Fatalf("generated config should load back: %v", err)
	}
}
