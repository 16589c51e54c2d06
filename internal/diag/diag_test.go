package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_SnapshotEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("snapshot() on empty registry = %v, want empty", got)
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in health response")
	}
}

func TestServer_SessionsEndpointEmpty(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Connections []ConnectionView `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Connections) != 0 {
		t.Errorf("Connections = %v, want empty", body.Connections)
	}
}
