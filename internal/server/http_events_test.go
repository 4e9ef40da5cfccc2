package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/skillbox/skillbox/internal/approval"
	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/execsvc"
	"github.com/skillbox/skillbox/internal/sandbox"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sink := audit.NewFromPaths(filepath.Join(t.TempDir(), "audit.jsonl"), "")
	gate := approval.NewGate(approval.NewCache(approval.DefaultTTL, nil), nil, sink, nil)
	svc := execsvc.NewServiceForTest(gate, sandbox.NewLauncher(nil), sink)
	return NewServer(svc, sink, nil)
}

func TestHandleScanCode_ReportsHighSeverityIssue(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, false)

	body, _ := json.Marshal(scanCodeRequest{Language: "python", Code: "import os\nos.system('rm -rf /')\n"})
	req := httptest.NewRequest(http.MethodPost, "/v1/scan_code", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp scanCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.RequiresConfirmation {
		t.Fatalf("expected requires_confirmation=true, got %+v", resp)
	}
	if resp.HighCount == 0 {
		t.Fatalf("expected at least one High issue, got %+v", resp)
	}
}

func TestHandleExecuteCode_Level3WithoutConfirmationIsBlocked(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, false)

	body, _ := json.Marshal(executeCodeRequest{
		Language:     "python",
		Code:         "import os\nos.system('rm -rf /')\n",
		SandboxLevel: 3,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/execute_code", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp executeCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ErrorKind != "ScanBlocked" {
		t.Fatalf("error_kind = %q, want ScanBlocked", resp.ErrorKind)
	}
}

func TestHandleExecuteCode_SafeEchoAtLevelOneSucceeds(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, false)

	body, _ := json.Marshal(executeCodeRequest{
		Language:     "bash",
		Code:         "echo '{}'\n",
		SandboxLevel: 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/execute_code", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp executeCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
}
