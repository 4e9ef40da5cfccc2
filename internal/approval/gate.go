// Package approval implements the Confirmation Gate (C3): given a scan
// result and an execution context, decides whether execution requires
// out-of-band approval, invokes a caller-supplied callback, and caches
// approvals per (code_hash) with a TTL.
package approval

import (
	"log/slog"

	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/scanner"
)

// Outcome is the gate's decision.
type Outcome int

const (
	NoConfirmationNeeded Outcome = iota
	AutoApproved
	Approved
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case NoConfirmationNeeded:
		return "NoConfirmationNeeded"
	case AutoApproved:
		return "AutoApproved"
	case Approved:
		return "Approved"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Callback is the synchronous confirmation callback contract:
// (formatted_report, scan_id) -> approved. Grounded verbatim in
// original_source's ConfirmationCallback type alias.
type Callback func(formattedReport, scanID string) bool

// GateContext carries the subset of the Execution Context the gate
// needs: whether auto-approve is honored, and the fields the optional
// CEL auto-rule layer may read.
type GateContext struct {
	AutoApprove      bool
	AllowNetwork     bool
	RequiresElevated bool
}

// Result is the full outcome of one gate decision, including the scan
// id it correlates with and a rejection reason when applicable.
type Result struct {
	Outcome Outcome
	ScanID  string
	Reason  string
}

// Gate is the Confirmation Gate.
type Gate struct {
	cache       *Cache
	autoApprove *AutoApproveEvaluator
	sink        *audit.Sink
	logger      *slog.Logger
}

// NewGate constructs a Gate. autoApprove may be nil to disable the CEL
// auto-rule layer entirely.
func NewGate(cache *Cache, autoApprove *AutoApproveEvaluator, sink *audit.Sink, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewCache(DefaultTTL, nil)
	}
	return &Gate{
		cache:       cache,
		autoApprove: autoApprove,
		sink:        sink,
		logger:      logger.With("component", "approval.Gate"),
	}
}

// Decide runs the confirmation decision logic. callback may be nil.
func (g *Gate) Decide(skillID string, scanResult scanner.Result, gctx GateContext, callback Callback) Result {
	if !scanResult.RequiresConfirmation() {
		return Result{Outcome: NoConfirmationNeeded, ScanID: scanResult.ScanID}
	}

	g.sink.ConfirmationRequested(skillID, scanResult.CodeHash, scanResult.ScanID, "")

	if gctx.AutoApprove && scanResult.CriticalCount == 0 {
		g.respond(skillID, scanResult, true, string(SourceAuto))
		return Result{Outcome: AutoApproved, ScanID: scanResult.ScanID}
	}

	if entry, ok := g.cache.Lookup(scanResult.CodeHash); ok {
		g.respond(skillID, scanResult, true, string(SourceRemembered))
		return Result{Outcome: Approved, ScanID: entry.ScanID}
	}

	if scanResult.CriticalCount == 0 && g.autoApprove.Evaluate(Decision{
		CriticalCount:    scanResult.CriticalCount,
		HighCount:        scanResult.HighCount,
		MediumCount:      scanResult.MediumCount,
		LowCount:         scanResult.LowCount,
		IsSafe:           scanResult.IsSafe,
		AllowNetwork:     gctx.AllowNetwork,
		RequiresElevated: gctx.RequiresElevated,
		SkillName:        skillID,
	}) {
		g.cache.Put(scanResult.CodeHash, scanResult.ScanID, SourceAuto)
		g.respond(skillID, scanResult, true, string(SourceAuto))
		return Result{Outcome: AutoApproved, ScanID: scanResult.ScanID}
	}

	if callback == nil {
		g.respond(skillID, scanResult, false, "")
		g.sink.SecurityScanRejected(skillID, scanResult.ScanID)
		return Result{Outcome: Rejected, ScanID: scanResult.ScanID, Reason: "no confirmation channel"}
	}

	report := FormatReport(scanResult)
	approved := callback(report, scanResult.ScanID)
	g.respond(skillID, scanResult, approved, string(SourceUser))

	if approved {
		g.cache.Put(scanResult.CodeHash, scanResult.ScanID, SourceUser)
		g.sink.SecurityScanApproved(skillID, scanResult.ScanID)
		return Result{Outcome: Approved, ScanID: scanResult.ScanID}
	}

	g.sink.SecurityScanRejected(skillID, scanResult.ScanID)
	return Result{Outcome: Rejected, ScanID: scanResult.ScanID, Reason: "confirmation denied"}
}

func (g *Gate) respond(skillID string, scanResult scanner.Result, approved bool, source string) {
	g.sink.ConfirmationResponse(skillID, scanResult.CodeHash, approved, source, "")
}
