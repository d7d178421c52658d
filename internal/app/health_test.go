package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newHealthServer(pingErr error) (*HTTPServer, *Service) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return pingErr },
	}
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*"), svc
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server, _ := newHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["ok"] != true || response["status"] != "ready" {
		t.Errorf("expected ready, got %+v", response)
	}
	checks, _ := response["checks"].(map[string]any)
	dbCheck, _ := checks["database"].(map[string]any)
	if dbCheck["status"] != "ok" {
		t.Errorf("expected database status=ok, got %v", dbCheck["status"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	server, _ := newHealthServer(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["ok"] != false || response["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %+v", response)
	}
	checks, _ := response["checks"].(map[string]any)
	dbCheck, _ := checks["database"].(map[string]any)
	if dbCheck["status"] != "error" {
		t.Errorf("expected database status=error, got %v", dbCheck["status"])
	}
	if dbCheck["error"] != "connection refused" {
		t.Errorf("expected database error='connection refused', got %v", dbCheck["error"])
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	server, _ := newHealthServer(nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/pages/roadmap/save", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	server, _ := newHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if id := rr.Header().Get("X-Request-ID"); id != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", id)
	}
}

func TestPingMethod(t *testing.T) {
	tests := []struct {
		name      string
		pingError error
		wantError bool
	}{
		{name: "healthy database", pingError: nil, wantError: false},
		{name: "unhealthy database", pingError: errors.New("connection failed"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newHealthServer(tt.pingError)

			err := svc.Ping(context.Background())
			if (err != nil) != tt.wantError {
				t.Errorf("Ping() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
