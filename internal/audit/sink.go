// Package audit implements the Audit & Event Sink (C8): two
// independently configurable append-only JSONL streams — an audit
// stream covering the confirmation/execution lifecycle, and a
// security-event stream for high-signal alerts. Writes are
// best-effort; any I/O error is swallowed, since audit must never take
// an execution down with it.
//
// Event names, the two environment variables that enable each stream,
// and the swallow-write-errors policy are grounded verbatim in
// original_source's audit.py and security_events.py (SKILLLITE_AUDIT_LOG,
// SKILLLITE_SECURITY_EVENTS_LOG, and the four audit + three security
// event names).
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event kind constants for the audit lifecycle stream.
const (
	EventConfirmationRequested = "confirmation_requested"
	EventConfirmationResponse  = "confirmation_response"
	EventExecutionStarted      = "execution_started"
	EventExecutionCompleted    = "execution_completed"
)

// Event kind constants for the security-event stream.
const (
	SecurityEventScanHigh      = "security_scan_high"
	SecurityEventScanApproved  = "security_scan_approved"
	SecurityEventScanRejected  = "security_scan_rejected"
)

// EnvAuditLogPath / EnvSecurityEventsLogPath are the environment
// variables the Service consults to locate each stream's file. When
// unset, the corresponding stream is disabled.
const (
	EnvAuditLogPath          = "SKILLLITE_AUDIT_LOG"
	EnvSecurityEventsLogPath = "SKILLLITE_SECURITY_EVENTS_LOG"
)

// Record is one line of the audit stream.
type Record struct {
	TS       string         `json:"ts"`
	Event    string         `json:"event"`
	SkillID  string         `json:"skill_id,omitempty"`
	CodeHash string         `json:"code_hash,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	PrevHash string         `json:"prev_hash"`
	Hash     string         `json:"hash"`
}

// SecurityRecord is one line of the security-event stream.
type SecurityRecord struct {
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	Category string         `json:"category"`
	SkillID  string         `json:"skill_id"`
	Details  map[string]any `json:"details"`
}

// Sink owns both stream file handles for its lifetime. No rotation
// logic is in scope — external tooling (logrotate or similar) handles
// that.
type Sink struct {
	mu sync.Mutex

	auditFile    *os.File
	auditPrev    string // rolling hash chain tip

	securityFile *os.File

	watchers []chan []byte // subscribers for the optional live tail
}

// New opens (creating and appending to) the files named by
// SKILLLITE_AUDIT_LOG and SKILLLITE_SECURITY_EVENTS_LOG. A stream whose
// env var is unset is left disabled (nil file) and all writes to it are
// silent no-ops.
func New() *Sink {
	return NewFromPaths(os.Getenv(EnvAuditLogPath), os.Getenv(EnvSecurityEventsLogPath))
}

// NewFromPaths is the explicit-path constructor used by tests and by
// callers that resolve configuration themselves rather than from env.
func NewFromPaths(auditPath, securityPath string) *Sink {
	s := &Sink{}
	if auditPath != "" {
		if f := openAppend(auditPath); f != nil {
			s.auditFile = f
			s.auditPrev = seedHash(auditPath)
		}
	}
	if securityPath != "" {
		s.securityFile = openAppend(securityPath)
	}
	return s
}

func openAppend(path string) *os.File {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// seedHash returns the hash the next record of an audit file chains
// to: the last record's hash when the file already holds records,
// otherwise the genesis link — the SHA-256 of its path, so distinct
// audit files never collide on an all-zero prev_hash.
func seedHash(path string) string {
	if data, err := os.ReadFile(path); err == nil {
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		var last Record
		if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err == nil && last.Hash != "" {
			return last.Hash
		}
	}
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// emit appends one audit record, chaining its hash to the previous
// record's hash. Best-effort: any error is swallowed.
func (s *Sink) emit(event, skillID, codeHash, sessionID string, details map[string]any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return
	}

	rec := Record{
		TS:        nowISO(),
		Event:     event,
		SkillID:   skillID,
		CodeHash:  codeHash,
		SessionID: sessionID,
		Details:   details,
		PrevHash:  s.auditPrev,
	}
	rec.Hash = computeHash(rec)
	s.auditPrev = rec.Hash

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := s.auditFile.Write(line); err != nil {
		return
	}
	s.broadcast(line)
}

// computeHash chains a record to its predecessor: SHA-256 over the
// stable fields plus prev_hash. Adapted from agent-warden's trace
// package hash-chain (ComputeHash/VerifyChain over ID|...|PrevHash),
// applied here to flat JSONL audit lines instead of a SQLite trace
// table.
func computeHash(r Record) string {
	detailsJSON, _ := json.Marshal(r.Details)
	data := strings.Join([]string{
		r.TS, r.Event, r.SkillID, r.CodeHash, r.SessionID, string(detailsJSON), r.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (s *Sink) broadcast(line []byte) {
	for _, ch := range s.watchers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe registers a channel that receives every newly written
// audit line (used by the optional websocket tail in watch.go). The
// returned func unsubscribes.
func (s *Sink) Subscribe(buf int) (<-chan []byte, func()) {
	ch := make(chan []byte, buf)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (s *Sink) ConfirmationRequested(skillID, codeHash, scanID, sessionID string) {
	s.emit(EventConfirmationRequested, skillID, codeHash, sessionID, map[string]any{"scan_id": scanID})
}

func (s *Sink) ConfirmationResponse(skillID, codeHash string, approved bool, source, sessionID string) {
	s.emit(EventConfirmationResponse, skillID, codeHash, sessionID, map[string]any{
		"approved": approved,
		"source":   source,
	})
}

func (s *Sink) ExecutionStarted(skillID, codeHash, sessionID, entryPoint string) {
	s.emit(EventExecutionStarted, skillID, codeHash, sessionID, map[string]any{"entry_point": entryPoint})
}

func (s *Sink) ExecutionCompleted(skillID, codeHash, sessionID string, exitCode int, durationMs int64, stdoutLen int, success bool) {
	s.emit(EventExecutionCompleted, skillID, codeHash, sessionID, map[string]any{
		"exit_code":   exitCode,
		"duration_ms": durationMs,
		"stdout_len":  stdoutLen,
		"success":     success,
	})
}

// emitSecurity appends one security-event line. Best-effort, same as emit.
func (s *Sink) emitSecurity(eventType, category, skillID string, details map[string]any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.securityFile == nil {
		return
	}
	rec := SecurityRecord{
		TS:       nowISO(),
		Type:     eventType,
		Category: category,
		SkillID:  skillID,
		Details:  details,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = s.securityFile.Write(line)
}

func (s *Sink) SecurityScanHigh(skillID, severity string, issues any) {
	s.emitSecurity(SecurityEventScanHigh, "code_scan", skillID, map[string]any{
		"severity": severity,
		"issues":   issues,
	})
}

func (s *Sink) SecurityScanApproved(skillID, scanID string) {
	s.emitSecurity(SecurityEventScanApproved, "code_scan", skillID, map[string]any{"scan_id": scanID})
}

func (s *Sink) SecurityScanRejected(skillID, scanID string) {
	s.emitSecurity(SecurityEventScanRejected, "code_scan", skillID, map[string]any{"scan_id": scanID})
}

// Close releases both file handles, if open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.auditFile != nil {
		if err := s.auditFile.Close(); err != nil {
			firstErr = err
		}
	}
	if s.securityFile != nil {
		if err := s.securityFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// VerifyChain re-reads path and checks that every record's hash
// matches its recomputed hash and chains to the previous record's
// hash. Returns (valid, brokenAtLine) — brokenAtLine is -1 when valid.
func VerifyChain(path string) (bool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, -1, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return true, -1, nil
	}

	var prev string
	for i, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return false, i, fmt.Errorf("line %d: %w", i, err)
		}
		if i > 0 && rec.PrevHash != prev {
			return false, i, nil
		}
		expected := computeHash(Record{
			TS: rec.TS, Event: rec.Event, SkillID: rec.SkillID, CodeHash: rec.CodeHash,
			SessionID: rec.SessionID, Details: rec.Details, PrevHash: rec.PrevHash,
		})
		if expected != rec.Hash {
			return false, i, nil
		}
		prev = rec.Hash
	}
	return true, -1, nil
}
