// Package config is skillbox's single configuration surface: one YAML
// file (skillbox.yaml) with ${ENV_VAR} substitution, loaded once at
// startup. Grounded in agent-warden's config.go struct-tag style
// (yaml.v3 tags, a Config root with nested section structs) and its
// loader_test.go's substitution/reload contract — agent-warden's own
// loader.go was never actually present in that repo (its main.go's
// config.NewLoader() referenced a type the package never defined), so
// this package's Loader is written fresh against that same contract
// rather than adapted from a file that didn't exist.
package config

import "time"

// Config is the top-level SEC configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audit    AuditConfig    `yaml:"audit"`
	Approval ApprovalConfig `yaml:"approval"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	SkillsDir string        `yaml:"skills_dir"`
}

// ServerConfig controls the optional `skillbox serve` HTTP surface.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

// AuditConfig names the two JSONL sink paths, also settable as
// environment variables; a config file value is only the default —
// SKILLLITE_AUDIT_LOG / SKILLLITE_SECURITY_EVENTS_LOG still override
// it at runtime (runServe checks them before opening the sink); this
// package itself reads neither variable.
type AuditConfig struct {
	LogPath           string `yaml:"log_path"`
	SecurityEventsLogPath string `yaml:"security_events_log_path"`
}

// ApprovalConfig selects the Approval Cache's persistence backend.
type ApprovalConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	StoreBackend     string        `yaml:"store_backend"` // "memory" or "sqlite"
	SQLitePath       string        `yaml:"sqlite_path"`
	AutoApproveCELExpr string      `yaml:"auto_approve_cel_expr"`
}

// SandboxConfig is parsed from the file, but nothing reads it yet:
// runServe does not pass it on, and execution defaults come from
// execsvc.FromEnv plus per-call overrides (execsvc.Override).
type SandboxConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	DefaultMaxMemoryMB    int `yaml:"default_max_memory_mb"`
}

// Default returns a config with sensible zero-config defaults,
// mirroring the documented env-var defaults so a missing config file
// and an unset environment behave identically.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     6787,
			LogLevel: "info",
		},
		Audit: AuditConfig{},
		Approval: ApprovalConfig{
			TTL:          10 * time.Minute,
			StoreBackend: "memory",
		},
		Sandbox: SandboxConfig{
			DefaultTimeoutSeconds: 120,
			DefaultMaxMemoryMB:    512,
		},
		SkillsDir: "./skills",
	}
}
