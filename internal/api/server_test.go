package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/config"
	"revenue-analytics/internal/service"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	fw := service.New(service.Deps{Metrics: service.NewMetrics(reg)}, zerolog.Nop())
	cfg := config.ServerConfig{MetricsPath: "/metrics"}
	return New(cfg, fw, reg, zerolog.Nop()).Handler()
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, out
}

func TestHealthz(t *testing.T) {
	h := setupServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestExecuteOperation(t *testing.T) {
	h := setupServer(t)

	rec, out := post(t, h, "/api/operations/set_revenue_goal",
		`{"name":"Q3","target_value":5000,"start_date":"2025-07-01","end_date":"2025-09-30"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, out)
	}
	if out["status"] != "success" || out["goal_id"] == "" {
		t.Fatalf("unexpected result %v", out)
	}

	rec, out = post(t, h, "/api/operations/get_goal", `{"goal_id":"missing"}`)
	if rec.Code != http.StatusUnprocessableEntity || out["status"] != "error" {
		t.Fatalf("status = %d, result %v", rec.Code, out)
	}

	rec, out = post(t, h, "/api/operations/goal_report", "")
	if rec.Code != http.StatusOK || out["status"] != "success" {
		t.Fatalf("empty body should be accepted: %d %v", rec.Code, out)
	}
}

func TestExecuteErrors(t *testing.T) {
	h := setupServer(t)

	rec, out := post(t, h, "/api/operations/teleport", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if out["message"] != "unknown operation: teleport" {
		t.Fatalf("unexpected message %v", out["message"])
	}

	rec, out = post(t, h, "/api/operations/get_goal", `{"goal_id":`)
	if rec.Code != http.StatusBadRequest || out["status"] != "error" {
		t.Fatalf("status = %d, result %v", rec.Code, out)
	}
}

func TestListOperationsAndMetrics(t *testing.T) {
	h := setupServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/operations/", nil))
	var listed struct {
		Operations []string `json:"operations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Operations) == 0 {
		t.Fatal("expected operations listed")
	}

	post(t, h, "/api/operations/goal_report", `{}`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `revenue_operations_total{operation="goal_report",status="success"} 1`) {
		t.Fatalf("metrics missing operation counter:\n%s", body)
	}
}
