package execsvc

import (
	"os"
	"strconv"
	"strings"
)

// SandboxLevel mirrors sandbox.Level but lives on the Execution
// Context independent of the sandbox package, since the Context is a
// pure value built before any sandbox backend is chosen.
type SandboxLevel int

const (
	LevelNone           SandboxLevel = 1
	LevelIsolate        SandboxLevel = 2
	LevelScanAndConfirm SandboxLevel = 3
)

const (
	envSandboxLevel = "SKILLBOX_SANDBOX_LEVEL"
	envAllowNetwork = "SKILLBOX_ALLOW_NETWORK"
	envTimeoutSecs  = "SKILLBOX_TIMEOUT_SECS"
	envMaxMemoryMB  = "SKILLBOX_MAX_MEMORY_MB"
	envAutoApprove  = "SKILLBOX_AUTO_APPROVE"

	defaultTimeoutSeconds = 120
	defaultMaxMemoryMB    = 512
	defaultSandboxLevel   = LevelScanAndConfirm
)

// Context is the immutable value describing how one invocation must
// be enforced. It is never mutated — every With* method returns a new
// value. FromEnv is the only reader of the SKILLBOX_* environment
// variables.
type Context struct {
	SandboxLevel     SandboxLevel
	AllowNetwork     bool
	TimeoutSeconds   int
	MaxMemoryMB      int
	AutoApprove      bool
	Confirmed        bool
	ScanID           string
	RequiresElevated bool
}

// FromEnv builds the default Context by reading the SKILLBOX_*
// environment variables. Unset or malformed values fall back to the
// documented defaults.
func FromEnv() Context {
	ctx := Context{
		SandboxLevel:   defaultSandboxLevel,
		TimeoutSeconds: defaultTimeoutSeconds,
		MaxMemoryMB:    defaultMaxMemoryMB,
	}

	if v, ok := os.LookupEnv(envSandboxLevel); ok {
		switch v {
		case "1":
			ctx.SandboxLevel = LevelNone
		case "2":
			ctx.SandboxLevel = LevelIsolate
		case "3":
			ctx.SandboxLevel = LevelScanAndConfirm
		}
	}
	ctx.AllowNetwork = parseTruthy(os.Getenv(envAllowNetwork))
	if n, err := strconv.Atoi(os.Getenv(envTimeoutSecs)); err == nil && n > 0 {
		ctx.TimeoutSeconds = n
	}
	if n, err := strconv.Atoi(os.Getenv(envMaxMemoryMB)); err == nil && n > 0 {
		ctx.MaxMemoryMB = n
	}
	ctx.AutoApprove = parseTruthy(os.Getenv(envAutoApprove))

	return ctx
}

// parseTruthy is the case-insensitive truthy set {1, true, yes, on}.
func parseTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Override is a set of per-call overlay values; a nil field pointer
// leaves the base Context's value untouched.
type Override struct {
	SandboxLevel   *SandboxLevel
	AllowNetwork   *bool
	TimeoutSeconds *int
	MaxMemoryMB    *int
	AutoApprove    *bool
}

// WithOverride returns a new Context with non-nil fields of o applied
// on top of c.
func (c Context) WithOverride(o Override) Context {
	next := c
	if o.SandboxLevel != nil {
		next.SandboxLevel = *o.SandboxLevel
	}
	if o.AllowNetwork != nil {
		next.AllowNetwork = *o.AllowNetwork
	}
	if o.TimeoutSeconds != nil && *o.TimeoutSeconds > 0 {
		next.TimeoutSeconds = *o.TimeoutSeconds
	}
	if o.MaxMemoryMB != nil && *o.MaxMemoryMB > 0 {
		next.MaxMemoryMB = *o.MaxMemoryMB
	}
	if o.AutoApprove != nil {
		next.AutoApprove = *o.AutoApprove
	}
	return next
}

// WithElevatedPermissions returns the variant for a skill declaring
// requires_elevated_permissions: elevated skills bypass the default
// sandbox but are flagged prominently in audit, never silently.
func (c Context) WithElevatedPermissions() Context {
	next := c
	next.SandboxLevel = LevelNone
	next.RequiresElevated = true
	return next
}

// WithUserConfirmation returns the variant used once a human has
// explicitly approved a scan: level downgraded to 1 for the actual
// launch, since confirmation is the strongest possible signal that
// running the code unsandboxed is acceptable.
func (c Context) WithUserConfirmation(scanID string) Context {
	next := c
	next.Confirmed = true
	next.ScanID = scanID
	next.SandboxLevel = LevelNone
	return next
}

// WithScanPassedNoPrompt returns the variant for level-3 contexts
// where the scan needed no confirmation (NoConfirmationNeeded) or was
// auto-approved: isolation stays on at level 2 equivalent since no
// explicit human responsibility was accepted for this specific run.
func (c Context) WithScanPassedNoPrompt(scanID string) Context {
	next := c
	next.ScanID = scanID
	next.SandboxLevel = LevelIsolate
	return next
}
