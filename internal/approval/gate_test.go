package approval

import (
	"testing"

	"github.com/skillbox/skillbox/internal/scanner"
)

func safeScanResult() scanner.Result {
	return scanner.Result{ScanID: "scan-safe", CodeHash: "hash-safe"}
}

func riskyScanResult() scanner.Result {
	return scanner.Result{ScanID: "scan-risky", CodeHash: "hash-risky", HighCount: 1}
}

func TestGate_NoConfirmationNeeded(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	result := g.Decide("skill", safeScanResult(), GateContext{}, nil)
	if result.Outcome != NoConfirmationNeeded {
		t.Fatalf("outcome = %v, want NoConfirmationNeeded", result.Outcome)
	}
}

func TestGate_AutoApproveNoCallback(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	result := g.Decide("skill", riskyScanResult(), GateContext{AutoApprove: true}, nil)
	if result.Outcome != AutoApproved {
		t.Fatalf("outcome = %v, want AutoApproved", result.Outcome)
	}
}

func TestGate_AutoApproveNeverOverridesCritical(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	sr := riskyScanResult()
	sr.CriticalCount = 1
	result := g.Decide("skill", sr, GateContext{AutoApprove: true}, nil)
	if result.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected (auto-approve never overrides Critical)", result.Outcome)
	}
}

func TestGate_NoCallbackRejects(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	result := g.Decide("skill", riskyScanResult(), GateContext{}, nil)
	if result.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", result.Outcome)
	}
	if result.Reason != "no confirmation channel" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestGate_CallbackApprovesAndCaches(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	sr := riskyScanResult()
	called := false
	result := g.Decide("skill", sr, GateContext{}, func(report, scanID string) bool {
		called = true
		if scanID != sr.ScanID {
			t.Errorf("callback scan id = %q, want %q", scanID, sr.ScanID)
		}
		if report == "" {
			t.Errorf("expected non-empty report")
		}
		return true
	})
	if !called {
		t.Fatalf("expected callback to be invoked")
	}
	if result.Outcome != Approved {
		t.Fatalf("outcome = %v, want Approved", result.Outcome)
	}

	// A second decision with the same code_hash must hit the cache, not
	// re-invoke the callback.
	calledAgain := false
	result2 := g.Decide("skill", sr, GateContext{}, func(report, scanID string) bool {
		calledAgain = true
		return true
	})
	if calledAgain {
		t.Fatalf("expected cache hit, callback should not be invoked again")
	}
	if result2.Outcome != Approved {
		t.Fatalf("outcome = %v, want Approved from cache", result2.Outcome)
	}
}

func TestGate_CallbackRejects(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)
	result := g.Decide("skill", riskyScanResult(), GateContext{}, func(report, scanID string) bool {
		return false
	})
	if result.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", result.Outcome)
	}
}

func TestGate_HashMismatchInvalidatesApproval(t *testing.T) {
	cache := NewCache(DefaultTTL, nil)
	g := NewGate(cache, nil, nil, nil)
	sr := riskyScanResult()
	g.Decide("skill", sr, GateContext{}, func(string, string) bool { return true })

	mutated := sr
	mutated.CodeHash = "hash-risky-mutated"
	calledAgain := false
	result := g.Decide("skill", mutated, GateContext{}, func(string, string) bool {
		calledAgain = true
		return false
	})
	if !calledAgain {
		t.Fatalf("expected callback invoked for a different code_hash")
	}
	if result.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", result.Outcome)
	}
}
