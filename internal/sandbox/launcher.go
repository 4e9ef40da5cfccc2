package sandbox

import (
	"fmt"
	"log/slog"
)

// Launcher selects the strongest available Executor for the host and
// applies the per-request Level semantics on top of it. Grounded in
// goclaw runner.go's Run() sequencing (defaults -> validate -> dispatch
// -> execute), adapted to this package's three-backend selection.
type Launcher struct {
	backends []Executor
	logger   *slog.Logger
}

// NewLauncher builds a Launcher trying backends strongest-first:
// Seatbelt, then Linux namespaces, then the rlimit fallback. Platform
// build tags mean at most one of Seatbelt/LinuxNS is ever compiled in
// for a given OS; RlimitExecutor is always present.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Launcher{logger: logger.With("component", "sandbox.Launcher")}
	l.backends = platformBackends()
	l.backends = append(l.backends, NewRlimitExecutor())
	return l
}

// Launch runs req under the strongest backend available, honoring
// Level semantics: Level 1 runs without isolation under the rlimit
// fallback (its timeout and rlimits apply, nothing more); Levels 2 and 3 both
// require full isolation — the distinction between them (whether the
// scan/confirmation pipeline ran) is the caller's concern (the
// execution service), not this package's.
func (l *Launcher) Launch(req Request) (Result, error) {
	if req.Level <= LevelNone {
		exec := NewRlimitExecutor()
		l.logger.Info("sandbox level 1: running unsandboxed under the rlimit fallback", "skill_root", req.SkillRoot)
		return exec.Execute(req)
	}

	for _, b := range l.backends {
		if !b.Available() {
			continue
		}
		l.logger.Info("launching under backend", "backend", b.Name(), "skill_root", req.SkillRoot)
		return b.Execute(req)
	}

	return Result{State: StateLaunchFailed}, fmt.Errorf("sandbox: no executor backend available")
}
