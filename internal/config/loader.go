package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader loads skillbox.yaml once and serves the parsed Config to any
// number of readers; Reload re-reads the same path under the same
// lock, matching agent-warden's loader_test.go reload contract.
type Loader struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewLoader returns a Loader seeded with Default() until Load is called.
func NewLoader() *Loader {
	return &Loader{cfg: Default()}
}

// Load reads path, substitutes ${ENV_VAR} references against the
// process environment, and parses the result as YAML over a fresh
// Default() base so unset fields keep their defaults.
func (l *Loader) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	l.mu.Lock()
	l.path = path
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Reload re-reads the path given to the last successful Load.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("config: Reload called before Load")
	}
	return l.Load(path)
}

// Get returns the current Config. Safe for concurrent use.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the last successfully loaded file, or
// "" if Load has never succeeded.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// GenerateDefault writes a starter skillbox.yaml to path.
func GenerateDefault(path string) error {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
