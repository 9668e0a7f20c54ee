package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evanschultz/poa/internal/adapters/metrics"
	"github.com/evanschultz/poa/internal/app"
)

// failingReadiness reports storage as unavailable.
type failingReadiness struct{}

// Ping always fails.
func (failingReadiness) Ping(context.Context) error {
	return errors.New("database locked")
}

// get issues one GET and returns status and body.
func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp.StatusCode, string(body)
}

// TestNewHandlerComposesSurfaces verifies health, API, and metrics routes share one mux.
func TestNewHandlerComposesSurfaces(t *testing.T) {
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	collector := metrics.New(engine)

	handler, cfg, err := NewHandler(Config{APIEndpoint: "api/v1/", MCPEndpoint: ""}, Dependencies{
		Service: engine,
		Metrics: collector,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" || cfg.HTTPBind != defaultBindAddress || cfg.ServerName != "poa" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	if status, body := get(t, srv.URL+"/healthz"); status != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("unexpected healthz %d %q", status, body)
	}
	if status, _ := get(t, srv.URL+"/readyz"); status != http.StatusOK {
		t.Fatalf("unexpected readyz status %d", status)
	}
	if status, body := get(t, srv.URL+"/api/v1/stats"); status != http.StatusOK || !strings.Contains(body, `"total":0`) {
		t.Fatalf("unexpected stats %d %q", status, body)
	}
	status, body := get(t, srv.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", status)
	}
	want := `poa_http_requests_total{method="GET",route="GET /api/v1/stats",status="200"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected metrics to contain %q\n%s", want, body)
	}
}

// TestReadyzReportsStorageFailure verifies readiness follows the storage ping.
func TestReadyzReportsStorageFailure(t *testing.T) {
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	handler, _, err := NewHandler(Config{}, Dependencies{Service: engine, Readiness: failingReadiness{}})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	if status, _ := get(t, srv.URL+"/readyz"); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if status, _ := get(t, srv.URL+"/healthz"); status != http.StatusOK {
		t.Fatalf("expected liveness to stay ok, got %d", status)
	}
}

// TestNewHandlerRejectsBadConfig verifies endpoint collisions and missing services fail.
func TestNewHandlerRejectsBadConfig(t *testing.T) {
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })

	if _, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "/x/"}, Dependencies{Service: engine}); err == nil {
		t.Fatal("expected collision error")
	}
	if _, _, err := NewHandler(Config{APIEndpoint: "/metrics"}, Dependencies{Service: engine}); err == nil {
		t.Fatal("expected reserved endpoint error")
	}
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing service error")
	}
}

// TestRunStopsOnCancel verifies graceful shutdown when the context ends.
func TestRunStopsOnCancel(t *testing.T) {
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Service: engine}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
