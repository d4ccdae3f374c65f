package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/executor"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/scheduler"
	"github.com/watzon/oncue/internal/scripts"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	tmpDir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:        "localhost",
			Port:        0,
			MaxBodySize: 1024 * 1024,
			CORS: config.CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
			},
		},
		Database: config.DatabaseConfig{
			Path:         filepath.Join(tmpDir, "test.db"),
			WALMode:      true,
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1,
		},
		Metrics: config.MetricsConfig{
			Enabled: false,
		},
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := job.NewStore(db)
	runs := runlog.NewStore(db)
	svc := scripts.NewService(scripts.NewStore(db), jobs, scripts.NewFilesystemBackend(t.TempDir()))

	pool := executor.NewPool(&config.ExecutorConfig{Workers: 1}, svc, runs)
	pool.Start()
	t.Cleanup(pool.Stop)

	sched := scheduler.NewScheduler(db, jobs, runs, pool, nil)
	t.Cleanup(sched.Stop)

	return New(cfg, db, jobs, runs, svc, sched, pool)
}

func TestServer_New(t *testing.T) {
	server := setupTestServer(t)

	if server == nil {
		t.Fatal("expected server to be created")
	}

	if server.db == nil {
		t.Error("expected database to be initialized")
	}

	if server.router == nil {
		t.Error("expected router to be initialized")
	}

	if server.httpServer == nil {
		t.Error("expected http server to be initialized")
	}
}

func TestServer_StartStop(t *testing.T) {
	server := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected server error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("server did not shut down in time")
	}
}

func TestServer_Accessors(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name     string
		accessor func() interface{}
	}{
		{"DB", func() interface{} { return server.DB() }},
		{"Jobs", func() interface{} { return server.Jobs() }},
		{"Runs", func() interface{} { return server.Runs() }},
		{"Scripts", func() interface{} { return server.Scripts() }},
		{"Scheduler", func() interface{} { return server.Scheduler() }},
		{"Pool", func() interface{} { return server.Pool() }},
		{"Config", func() interface{} { return server.Config() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.accessor() == nil {
				t.Errorf("%s should not be nil", tt.name)
			}
		})
	}
}

func TestRouter_Routes(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/api/stats", http.StatusOK},
		{http.MethodGet, "/api/jobs", http.StatusOK},
		{http.MethodGet, "/api/runs", http.StatusOK},
		{http.MethodGet, "/api/scripts", http.StatusOK},
		{http.MethodGet, "/api/jobs/ghost", http.StatusNotFound},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodDelete, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			server.router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header on routed responses")
	}
}

func TestRouter_JobLifecycle(t *testing.T) {
	server := setupTestServer(t)

	body := `{"name":"roundtrip","script":"noop.sh","rule":{"kind":"interval","every":"1h"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var created job.Job
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID, nil)
	w = httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get: expected status %d, got %d", http.StatusOK, w.Code)
	}

	var got job.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected job %s, got %s", created.ID, got.ID)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/jobs/"+created.ID, nil)
	w = httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected status %d, got %d", http.StatusNoContent, w.Code)
	}
}

func TestRouter_MetricsRoute(t *testing.T) {
	server := setupTestServer(t)
	server.cfg.Metrics.Enabled = true
	server.router = NewRouter(server)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected prometheus exposition output")
	}
}
