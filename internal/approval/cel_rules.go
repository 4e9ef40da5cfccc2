package approval

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// AutoApproveEvaluator compiles and evaluates an optional CEL
// expression that, when true, lets the gate auto-approve a scan result
// without invoking the confirmation callback. It sits strictly after
// the cache check and strictly before the callback invocation, so it
// can never override an already-cached user approval.
//
// Adapted from agent-warden's policy/cel.go CELEvaluator: same
// compile-once/evaluate-many shape and fail-closed-on-error posture,
// narrowed to the variables a Confirmation Gate decision actually
// needs (scan severity counts and the effective Execution Context)
// instead of agent-warden's general agent-action ActionContext.
type AutoApproveEvaluator struct {
	env     *cel.Env
	program cel.Program
	logger  *slog.Logger
}

// NewAutoApproveEvaluator compiles expr against the gate's variable
// set. An empty expr disables the layer entirely (Evaluate always
// returns false).
func NewAutoApproveEvaluator(expr string, logger *slog.Logger) (*AutoApproveEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("scan.critical_count", cel.IntType),
		cel.Variable("scan.high_count", cel.IntType),
		cel.Variable("scan.medium_count", cel.IntType),
		cel.Variable("scan.low_count", cel.IntType),
		cel.Variable("scan.is_safe", cel.BoolType),
		cel.Variable("context.allow_network", cel.BoolType),
		cel.Variable("context.requires_elevated", cel.BoolType),
		cel.Variable("skill.name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &AutoApproveEvaluator{env: env, logger: logger.With("component", "approval.AutoApproveEvaluator")}
	if expr == "" {
		return e, nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL auto-approve expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	e.program = prg
	return e, nil
}

// Decision is the input to Evaluate — the fields of a Scan Result and
// Execution Context a gate decision may depend on.
type Decision struct {
	CriticalCount    int
	HighCount        int
	MediumCount      int
	LowCount         int
	IsSafe           bool
	AllowNetwork     bool
	RequiresElevated bool
	SkillName        string
}

// Evaluate returns whether the auto-approve rule fires. Any compile or
// evaluation error is treated as "does not fire" (fail closed — an
// unevaluable rule never grants approval, it only ever falls through
// to the ordinary cache/callback path).
func (e *AutoApproveEvaluator) Evaluate(d Decision) bool {
	if e == nil || e.program == nil {
		return false
	}
	vars := map[string]any{
		"scan.critical_count":       int64(d.CriticalCount),
		"scan.high_count":           int64(d.HighCount),
		"scan.medium_count":         int64(d.MediumCount),
		"scan.low_count":            int64(d.LowCount),
		"scan.is_safe":              d.IsSafe,
		"context.allow_network":     d.AllowNetwork,
		"context.requires_elevated": d.RequiresElevated,
		"skill.name":                d.SkillName,
	}
	out, _, err := e.program.Eval(vars)
	if err != nil {
		e.logger.Warn("CEL auto-approve evaluation error, failing closed", "error", err)
		return false
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false
	}
	return result
}
