package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jlelli/rt-audit/internal/config"
	"github.com/jlelli/rt-audit/internal/history"
	"github.com/jlelli/rt-audit/internal/report"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	st, err := history.Open(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(cfg, testLogger(), WithStore(st))
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v (body=%s)", method, path, err, w.Body.String())
	}
	if env.RequestID == "" {
		t.Errorf("%s %s: request_id is empty", method, path)
	}
	if w.Header().Get("X-Request-ID") != env.RequestID {
		t.Errorf("%s %s: X-Request-ID header does not match envelope", method, path)
	}
	return w.Code, env
}

const schedulable = `{"tasks": {
	"audio": {"dl-runtime": 1000, "dl-period": 10000, "cpus": [0, 1]},
	"video": {"dl-runtime": 5000, "dl-period": 20000, "cpus": [0, 1]}
}}`

func TestHealth(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	code, env := do(t, srv, "GET", "/api/v1/health", "")
	if code != http.StatusOK || env.Status != "ok" {
		t.Fatalf("expected 200 ok, got %d %s", code, env.Status)
	}
	var data healthResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Status != "healthy" || data.Store != "sqlite" {
		t.Errorf("unexpected health %+v", data)
	}
}

func TestAnalyze_AndFetch(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())

	code, env := do(t, srv, "POST", "/api/v1/analyze?source=demo.json", schedulable)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", code, env.Error)
	}
	var rep report.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Verdict != report.VerdictBoth || rep.ProcessorCount != 2 || rep.Source != "demo.json" {
		t.Errorf("unexpected report %+v", rep)
	}

	code, env = do(t, srv, "GET", "/api/v1/reports/"+rep.ID, "")
	if code != http.StatusOK {
		t.Fatalf("expected stored report, got %d", code)
	}
	var stored report.Report
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if stored.ID != rep.ID || stored.Verdict != rep.Verdict {
		t.Errorf("stored report differs: %+v", stored)
	}

	code, env = do(t, srv, "GET", "/api/v1/reports", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var entries []history.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != rep.ID {
		t.Errorf("expected one entry for %s, got %+v", rep.ID, entries)
	}
}

func TestAnalyze_QueryOverrides(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	code, env := do(t, srv, "POST", "/api/v1/analyze?cpus=8&tolerance=1e-9", schedulable)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", code, env.Error)
	}
	var rep report.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.ProcessorCount != 8 || rep.Config.Tolerance != 1e-9 {
		t.Errorf("expected overrides to apply, got m=%d tol=%v", rep.ProcessorCount, rep.Config.Tolerance)
	}
}

func TestAnalyze_Exclude(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	code, env := do(t, srv, "POST", "/api/v1/analyze?exclude=video", schedulable)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", code, env.Error)
	}
	var rep report.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.TaskCount != 1 || len(rep.Config.Exclude) != 1 {
		t.Errorf("expected video to be excluded, got %d tasks, exclude %v", rep.TaskCount, rep.Config.Exclude)
	}
}

func TestAnalyze_OverflowingRuntimeIsSkipped(t *testing.T) {
	srv := New(config.DefaultServerConfig(), testLogger())
	code, env := do(t, srv, "POST", "/api/v1/analyze", `{"tasks": {
		"huge": {"dl-runtime": 1e400, "dl-period": 10000, "cpus": [0, 1]},
		"ok": {"dl-runtime": 1000, "dl-period": 10000, "cpus": [0, 1]}
	}}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", code, env.Error)
	}
	var rep report.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.TaskCount != 1 || len(rep.Warnings) != 1 {
		t.Errorf("expected the overflowing task to be skipped, got %d tasks, warnings %v", rep.TaskCount, rep.Warnings)
	}
}

func TestRespondJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()
	respondOK(w, "req_test", map[string]float64{"u": math.Inf(1)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON body: %v (%s)", err, w.Body.String())
	}
	if env.Status != "error" || env.Error == nil || env.Error.Code != "internal" {
		t.Errorf("expected internal error envelope, got %+v", env)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", "/api/v1/analyze", `{"tasks":`, http.StatusBadRequest, "invalid_json"},
		{"no affinity", "/api/v1/analyze", `{"tasks": {"a": {"dl-runtime": 1, "dl-period": 10}}}`, http.StatusUnprocessableEntity, "invalid_taskset"},
		{"bad cpus", "/api/v1/analyze?cpus=zero", schedulable, http.StatusBadRequest, "bad_request"},
		{"negative tolerance", "/api/v1/analyze?tolerance=-1", schedulable, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, config.DefaultServerConfig())
			code, env := do(t, srv, "POST", tt.path, tt.body)
			if code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, code)
			}
			if env.Status != "error" || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("expected error code %s, got %+v", tt.code, env.Error)
			}
		})
	}
}

func TestAnalyze_EmptyTasksetIsInconclusive(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	code, env := do(t, srv, "POST", "/api/v1/analyze",
		`{"tasks": {"broken": {"dl-runtime": 1, "dl-period": 0, "cpus": [0]}}}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var rep report.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Verdict != report.VerdictInconclusive || rep.Failure == nil {
		t.Errorf("expected inconclusive report with a failure, got %+v", rep)
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.MaxBody = 16
	srv := testServer(t, cfg)
	code, _ := do(t, srv, "POST", "/api/v1/analyze", schedulable)
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", code)
	}
}

func TestAnalyze_RateLimited(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	srv := testServer(t, cfg)

	if code, _ := do(t, srv, "POST", "/api/v1/analyze", schedulable); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	code, env := do(t, srv, "POST", "/api/v1/analyze", schedulable)
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if env.Error == nil || env.Error.Code != "rate_limited" {
		t.Errorf("unexpected error %+v", env.Error)
	}

	// Reads are not limited.
	if code, _ := do(t, srv, "GET", "/api/v1/reports", ""); code != http.StatusOK {
		t.Errorf("expected listing to bypass the limiter, got %d", code)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	code, env := do(t, srv, "GET", "/api/v1/reports/audit-nothere", "")
	if code != http.StatusNotFound || env.Error == nil || env.Error.Code != "not_found" {
		t.Errorf("expected 404 not_found, got %d %+v", code, env.Error)
	}
}

func TestListReports_BadLimit(t *testing.T) {
	srv := testServer(t, config.DefaultServerConfig())
	if code, _ := do(t, srv, "GET", "/api/v1/reports?limit=-3", ""); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestNoStore(t *testing.T) {
	srv := New(config.DefaultServerConfig(), testLogger())

	if code, _ := do(t, srv, "POST", "/api/v1/analyze", schedulable); code != http.StatusOK {
		t.Errorf("expected analysis without a store to work, got %d", code)
	}
	code, env := do(t, srv, "GET", "/api/v1/reports", "")
	if code != http.StatusServiceUnavailable || env.Error.Code != "history_disabled" {
		t.Errorf("expected 503 history_disabled, got %d %+v", code, env.Error)
	}
}
