package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	env := setupEnv(t)
	h := NewHealthHandlers(env.db, env.jobs, env.pool, "test")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != HealthStatusHealthy {
		t.Errorf("expected healthy status, got %s", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("expected version test, got %s", resp.Version)
	}

	db, ok := resp.Components["database"]
	if !ok {
		t.Fatal("expected a database component")
	}
	if db.Status != HealthStatusHealthy {
		t.Errorf("expected healthy database, got %s", db.Status)
	}
	if db.Latency == "" {
		t.Error("expected a database latency measurement")
	}

	for _, name := range []string{"jobs", "executor"} {
		component, ok := resp.Components[name]
		if !ok {
			t.Errorf("expected a %s component", name)
			continue
		}
		if component.Status != HealthStatusHealthy {
			t.Errorf("expected healthy %s, got %s", name, component.Status)
		}
	}
}

func TestHealthDegradedJobs(t *testing.T) {
	env := setupEnv(t)
	h := NewHealthHandlers(env.db, env.jobs, env.pool, "test")

	j := env.createJob(t, "broken", true)
	if err := env.jobs.MarkDegraded(context.Background(), j.ID, "computing next fire: bad rule"); err != nil {
		t.Fatalf("mark degraded: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	// Degraded jobs are an operator concern, not an outage.
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != HealthStatusDegraded {
		t.Errorf("expected degraded status, got %s", resp.Status)
	}
	if !strings.Contains(resp.Components["jobs"].Message, "1 jobs degraded") {
		t.Errorf("unexpected jobs message: %q", resp.Components["jobs"].Message)
	}
}

func TestLiveness(t *testing.T) {
	env := setupEnv(t)
	h := NewHealthHandlers(env.db, env.jobs, env.pool, "test")

	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestReadiness(t *testing.T) {
	env := setupEnv(t)
	h := NewHealthHandlers(env.db, env.jobs, env.pool, "test")

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ready" {
		t.Errorf("expected status ready, got %s", resp["status"])
	}
}

func TestStats(t *testing.T) {
	env := setupEnv(t)
	h := NewHealthHandlers(env.db, env.jobs, env.pool, "test")
	env.createJob(t, "counted", true)

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	for _, key := range []string{"runtime", "uptime", "database", "jobs", "executor"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("expected %s in stats response", key)
		}
	}

	runtimeStats, ok := resp["runtime"].(map[string]any)
	if !ok {
		t.Fatal("expected runtime stats object")
	}
	if runtimeStats["go_version"] == "" {
		t.Error("expected a go version")
	}
}
