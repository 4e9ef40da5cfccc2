// Package execsvc implements the Execution Service (C6): the single
// process-wide entry point that resolves an Execution Context, runs
// the scan/confirmation pipeline when required, and dispatches to the
// Sandbox Launcher and I/O Broker.
//
// Singleton construction is grounded in agent-warden's wiring style —
// its main.go built every component once via explicit New*(logger)
// constructors with no package-level init() or double-checked-lock
// singleton anywhere — adapted into a sync.OnceValue-backed
// GetService()/NewServiceForTest() pair to avoid lazy-init races.
package execsvc

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skillbox/skillbox/internal/approval"
	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/iobroker"
	"github.com/skillbox/skillbox/internal/manifest"
	"github.com/skillbox/skillbox/internal/sandbox"
	"github.com/skillbox/skillbox/internal/scanner"
)

// ExecutionResult is the Service's public return value.
type ExecutionResult struct {
	Success      bool
	Output       any
	ErrorKind    iobroker.ErrorKind
	ErrorMessage string
	ScanResult   *scanner.Result
	FormattedReport string
	ExitCode     int
	DurationMs   int64
	StdoutLen    int
	Backend      sandbox.Backend
}

// Service is the Execution Service. It holds no per-call mutable
// state of its own; the Approval Cache and Audit Sink are its only
// shared mutable state, each already internally synchronized.
type Service struct {
	gate     *approval.Gate
	launcher *sandbox.Launcher
	sink     *audit.Sink
	logger   *slog.Logger

	cancelMu sync.Mutex
	cancels  map[string]chan struct{}
}

// New builds a Service from its dependencies. Exported (rather than
// lazily constructed) so tests can build isolated instances without
// touching process-wide state or mutating a shared global.
func New(gate *approval.Gate, launcher *sandbox.Launcher, sink *audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gate:     gate,
		launcher: launcher,
		sink:     sink,
		logger:   logger.With("component", "execsvc.Service"),
		cancels:  make(map[string]chan struct{}),
	}
}

var singleton = sync.OnceValue(func() *Service {
	logger := slog.Default()
	// One sink, shared with the gate: audit.Sink keeps its hash-chain
	// tip in memory, so two independent sinks writing the same log file
	// would each think they owned the chain and corrupt it.
	sink := audit.New()
	return New(
		approval.NewGate(approval.NewCache(approval.DefaultTTL, nil), nil, sink, logger),
		sandbox.NewLauncher(logger),
		sink,
		logger,
	)
})

// GetService returns the process-wide Service, constructing it exactly
// once regardless of how many goroutines call concurrently.
func GetService() *Service { return singleton() }

// NewServiceForTest builds a fresh, independent Service for tests —
// never the shared singleton.
func NewServiceForTest(gate *approval.Gate, launcher *sandbox.Launcher, sink *audit.Sink) *Service {
	return New(gate, launcher, sink, slog.Default())
}

// Execute runs skill.EntryPath() under sandbox/scan/confirmation rules
// derived from ctx: elevate or gate as required, launch under the
// resolved sandbox level, then decode the result. executionID is used
// only to register this in-flight call for external cancellation via
// Cancel(executionID); pass "" to opt out.
func (s *Service) Execute(skill manifest.Skill, input map[string]any, ctx Context, callback approval.Callback, executionID string) ExecutionResult {
	if skill.RequiresElevatedPermissions {
		ctx = ctx.WithElevatedPermissions()
	}

	var scanResult *scanner.Result
	if ctx.SandboxLevel == LevelScanAndConfirm {
		source, readErr := os.ReadFile(skill.EntryPath())
		if readErr != nil {
			return ExecutionResult{
				Success:      false,
				ErrorKind:    iobroker.ErrorInvalidInput,
				ErrorMessage: fmt.Sprintf("read entry point: %v", readErr),
			}
		}
		sr := scanner.Scan(skill.Language, []string{string(source)})
		scanResult = &sr

		if sr.RequiresConfirmation() {
			if sr.HighCount > 0 || sr.CriticalCount > 0 {
				s.sink.SecurityScanHigh(skill.Name, severityLabel(sr), sr.Issues)
			}

			decision := s.gate.Decide(skill.Name, sr, approval.GateContext{
				AutoApprove:      ctx.AutoApprove,
				AllowNetwork:     ctx.AllowNetwork,
				RequiresElevated: ctx.RequiresElevated,
			}, callback)

			switch decision.Outcome {
			case approval.Rejected:
				kind := iobroker.ErrorScanBlocked
				if callback != nil {
					kind = iobroker.ErrorUserDenied
				}
				return ExecutionResult{
					Success:         false,
					ErrorKind:       kind,
					ErrorMessage:    decision.Reason,
					ScanResult:      scanResult,
					FormattedReport: approval.FormatReport(sr),
				}
			case approval.Approved:
				// Explicit human responsibility accepted this run:
				// drop all the way to level 1 so the approval is never
				// re-scanned or re-prompted.
				ctx = ctx.WithUserConfirmation(decision.ScanID)
			case approval.AutoApproved, approval.NoConfirmationNeeded:
				ctx = ctx.WithScanPassedNoPrompt(decision.ScanID)
			}
		} else {
			ctx = ctx.WithScanPassedNoPrompt(sr.ScanID)
		}
	}

	cancelCh := s.register(executionID)
	defer s.unregister(executionID)

	s.sink.ExecutionStarted(skill.Name, codeHashOf(scanResult), "", skill.EntryPoint)

	start := time.Now()
	result, err := s.launcher.Launch(sandbox.Request{
		Interpreter:    interpreterFor(skill.Language),
		EntryPath:      skill.EntryPath(),
		SkillRoot:      skill.Dir,
		Level:          sandbox.Level(ctx.SandboxLevel),
		AllowNetwork:   ctx.AllowNetwork,
		TimeoutSeconds: ctx.TimeoutSeconds,
		MaxMemoryMB:    ctx.MaxMemoryMB,
		Stdin:          mustStdin(input),
		Cancel:         cancelCh,
	})
	duration := time.Since(start).Milliseconds()

	if err != nil {
		s.sink.ExecutionCompleted(skill.Name, codeHashOf(scanResult), "", -1, duration, 0, false)
		return ExecutionResult{
			Success:      false,
			ErrorKind:    iobroker.ErrorLaunchFailed,
			ErrorMessage: fmt.Sprintf("launch failed: %v", err),
			ScanResult:   scanResult,
			DurationMs:   duration,
		}
	}

	decoded := iobroker.Decode(result)
	errKind, errMsg := decoded.ErrorKind, errorMessageFor(decoded)
	if cancelCh != nil {
		select {
		case <-cancelCh:
			errKind, errMsg = iobroker.ErrorTimeout, "cancelled"
		default:
		}
	}
	success := errKind == iobroker.ErrorNone

	s.sink.ExecutionCompleted(skill.Name, codeHashOf(scanResult), "", decoded.ExitCode, duration, len(result.Stdout), success)

	return ExecutionResult{
		Success:      success,
		Output:       decoded.Output,
		ErrorKind:    errKind,
		ErrorMessage: errMsg,
		ScanResult:   scanResult,
		ExitCode:     decoded.ExitCode,
		DurationMs:   duration,
		StdoutLen:    len(result.Stdout),
		Backend:      decoded.Backend,
	}
}

// Cancel forwards an external stop request to the in-flight execution
// registered under id, if any. The backend stops the child through the
// same kill path as a timeout (SIGTERM to the process group, SIGKILL
// after the 2s grace), and Execute reports the run as a Timeout with
// the message "cancelled".
func (s *Service) Cancel(id string) bool {
	if id == "" {
		return false
	}
	s.cancelMu.Lock()
	ch, ok := s.cancels[id]
	s.cancelMu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	return true
}

func (s *Service) register(id string) chan struct{} {
	if id == "" {
		return nil
	}
	ch := make(chan struct{})
	s.cancelMu.Lock()
	s.cancels[id] = ch
	s.cancelMu.Unlock()
	return ch
}

func (s *Service) unregister(id string) {
	if id == "" {
		return
	}
	s.cancelMu.Lock()
	delete(s.cancels, id)
	s.cancelMu.Unlock()
}

func interpreterFor(lang manifest.Language) string {
	switch lang {
	case manifest.LangPython:
		return "python3"
	case manifest.LangJavaScript:
		return "node"
	case manifest.LangBash:
		return "/bin/sh"
	default:
		return "/bin/sh"
	}
}

func codeHashOf(sr *scanner.Result) string {
	if sr == nil {
		return ""
	}
	return sr.CodeHash
}

func severityLabel(sr scanner.Result) string {
	if sr.CriticalCount > 0 {
		return "Critical"
	}
	return "High"
}

func errorMessageFor(d iobroker.ExecutionResult) string {
	if d.ErrorKind == iobroker.ErrorNone {
		return ""
	}
	if d.Stderr != "" {
		return string(d.ErrorKind) + ": " + d.Stderr
	}
	return string(d.ErrorKind)
}

func mustStdin(input map[string]any) []byte {
	payload, err := iobroker.BuildStdin(input)
	if err != nil {
		return []byte("{}")
	}
	return payload
}
