// Package server exposes skillbox's RPC surface over plain HTTP:
// scan_code and execute_code. Grounded in agent-warden's
// HTTPEventsServer — the ServeMux route registration, JSON
// decode/encode error helpers, and handler shape (decode body,
// validate, translate to the internal call, encode the result) carry
// over directly; the routes and payload shapes are skillbox's own.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/skillbox/skillbox/internal/approval"
	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/execsvc"
	"github.com/skillbox/skillbox/internal/manifest"
	"github.com/skillbox/skillbox/internal/scanner"
)

// Server serves scan_code/execute_code over HTTP and optionally mounts
// the audit sink's live websocket tail (C8's watch handler).
type Server struct {
	service *execsvc.Service
	sink    *audit.Sink
	logger  *slog.Logger

	scansMu sync.Mutex
	scans   map[string]string // scan_id -> code_hash, populated by handleScanCode
}

func NewServer(service *execsvc.Service, sink *audit.Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		sink:    sink,
		logger:  logger.With("component", "server.Server"),
		scans:   make(map[string]string),
	}
}

// recordScan remembers the code_hash a scan_id was issued for, so a
// later execute_code call claiming that scan_id can be checked against
// the code it actually covered rather than trusted at face value.
func (s *Server) recordScan(scanID, codeHash string) {
	s.scansMu.Lock()
	defer s.scansMu.Unlock()
	s.scans[scanID] = codeHash
}

func (s *Server) lookupScan(scanID string) (string, bool) {
	s.scansMu.Lock()
	defer s.scansMu.Unlock()
	hash, ok := s.scans[scanID]
	return hash, ok
}

// RegisterRoutes mounts this server's endpoints on mux. watchAudit
// additionally mounts the live audit tail at GET /v1/audit/watch.
func (s *Server) RegisterRoutes(mux *http.ServeMux, watchAudit bool) {
	mux.HandleFunc("POST /v1/scan_code", s.handleScanCode)
	mux.HandleFunc("POST /v1/execute_code", s.handleExecuteCode)
	if watchAudit && s.sink != nil {
		mux.HandleFunc("GET /v1/audit/watch", s.sink.WatchHandler(s.logger))
	}
}

type scanCodeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type scanCodeResponse struct {
	ScanID              string `json:"scan_id"`
	CodeHash            string `json:"code_hash"`
	Issues              []scanner.Issue `json:"issues"`
	CriticalCount       int    `json:"critical_count"`
	HighCount           int    `json:"high_count"`
	MediumCount         int    `json:"medium_count"`
	LowCount            int    `json:"low_count"`
	RequiresConfirmation bool  `json:"requires_confirmation"`
	FormattedReport     string `json:"formatted_report"`
}

func (s *Server) handleScanCode(w http.ResponseWriter, r *http.Request) {
	var req scanCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEventError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer func() { _ = r.Body.Close() }()

	result := scanner.Scan(manifest.Language(req.Language), []string{req.Code})
	s.recordScan(result.ScanID, result.CodeHash)
	writeEventJSON(w, http.StatusOK, scanCodeResponse{
		ScanID:               result.ScanID,
		CodeHash:             result.CodeHash,
		Issues:               result.Issues,
		CriticalCount:        result.CriticalCount,
		HighCount:            result.HighCount,
		MediumCount:          result.MediumCount,
		LowCount:             result.LowCount,
		RequiresConfirmation: result.RequiresConfirmation(),
		FormattedReport:      approval.FormatReport(result),
	})
}

type executeCodeRequest struct {
	Language     string `json:"language"`
	Code         string `json:"code"`
	SandboxLevel int    `json:"sandbox_level"`
	Confirmed    bool   `json:"confirmed"`
	ScanID       string `json:"scan_id"`
}

type executeCodeResponse struct {
	Success      bool   `json:"success"`
	Output       any    `json:"output,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// handleExecuteCode writes inline code to a throwaway skill directory
// and runs it through the Execution Service — this RPC has no
// pre-existing skill manifest, unlike the CLI's `skillbox exec <dir>`
// path, so it fabricates a minimal one-shot Skill value.
func (s *Server) handleExecuteCode(w http.ResponseWriter, r *http.Request) {
	var req executeCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEventError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer func() { _ = r.Body.Close() }()

	if req.SandboxLevel == int(execsvc.LevelScanAndConfirm) {
		pre := scanner.Scan(manifest.Language(req.Language), []string{req.Code})
		if pre.RequiresConfirmation() {
			// scanner.Scan mints a fresh scan_id on every call, so the
			// round trip can't be checked by comparing against a newly
			// generated one — it has to be checked against the code_hash
			// the caller's scan_id was actually issued for.
			storedHash, known := s.lookupScan(req.ScanID)
			if !req.Confirmed || !known || storedHash != pre.CodeHash {
				writeEventJSON(w, http.StatusForbidden, executeCodeResponse{
					Success:      false,
					ErrorKind:    "ScanBlocked",
					ErrorMessage: "sandbox_level 3 requires confirmed=true with a scan_id from a prior scan_code call covering this exact code",
				})
				return
			}
		}
	}

	skill, entry, cleanup, err := writeInlineSkill(req.Language, req.Code)
	if err != nil {
		writeEventError(w, http.StatusInternalServerError, "prepare inline skill: "+err.Error())
		return
	}
	defer cleanup()
	_ = entry

	ctx := execsvc.FromEnv()
	lvl := execsvc.SandboxLevel(req.SandboxLevel)
	if lvl != 0 {
		ctx.SandboxLevel = lvl
	}
	if req.Confirmed {
		ctx = ctx.WithUserConfirmation(req.ScanID)
	}

	var callback approval.Callback
	if req.Confirmed {
		callback = func(string, string) bool { return true }
	}

	result := s.service.Execute(skill, map[string]any{}, ctx, callback, "")
	writeEventJSON(w, http.StatusOK, executeCodeResponse{
		Success:      result.Success,
		Output:       result.Output,
		ErrorKind:    string(result.ErrorKind),
		ErrorMessage: result.ErrorMessage,
		DurationMs:   result.DurationMs,
	})
}

func writeEventJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEventError(w http.ResponseWriter, status int, message string) {
	writeEventJSON(w, status, map[string]string{"error": message})
}
