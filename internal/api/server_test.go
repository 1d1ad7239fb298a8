package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticStatus struct {
	value any
}

func (s staticStatus) LastStatus() any { return s.value }

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticStatus{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticStatus{}))
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	resp.Body.Close()
	srv.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 before any run, got %d", resp.StatusCode)
	}

	srv = httptest.NewServer(NewRouter(staticStatus{value: map[string]string{"status": "confirmed"}}))
	defer srv.Close()
	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body["status"] != "confirmed" {
		t.Fatalf("unexpected status body %#v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticStatus{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
