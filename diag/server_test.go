package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scrtlabs/secret-agent-go/gateway"
)

type stubRunner struct {
	report gateway.Report
}

func (s *stubRunner) Run(_ context.Context) gateway.Report { return s.report }

func healthyReport() gateway.Report {
	return gateway.Report{
		ID:        "test-report",
		Mode:      "proxied",
		CheckedAt: time.Now().UTC(),
		Backends: []gateway.BackendStatus{
			{Backend: "ollama", OK: true},
			{Backend: "chroma", OK: true},
			{Backend: "neo4j", OK: true},
			{Backend: "redis", OK: true},
			{Backend: "scrt", OK: true},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&stubRunner{report: healthyReport()}, "localhost:0", 0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestConnectionsHealthy(t *testing.T) {
	srv := NewServer(&stubRunner{report: healthyReport()}, "localhost:0", 0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/connections")
	if err != nil {
		t.Fatalf("GET /connections: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var report gateway.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.ID != "test-report" {
		t.Errorf("id = %q", report.ID)
	}
	if len(report.Backends) != 5 {
		t.Errorf("backends = %d, want 5", len(report.Backends))
	}
}

func TestConnectionsUnhealthyReturns503(t *testing.T) {
	report := healthyReport()
	report.Backends[2] = gateway.BackendStatus{
		Backend: "neo4j",
		OK:      false,
		Error:   "connectivity error for neo4j: probe failed",
	}
	srv := NewServer(&stubRunner{report: report}, "localhost:0", 0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/connections")
	if err != nil {
		t.Fatalf("GET /connections: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	var got gateway.Report
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if got.Healthy() {
		t.Error("report should be unhealthy")
	}
}

func TestConnectionsRejectsPost(t *testing.T) {
	srv := NewServer(&stubRunner{report: healthyReport()}, "localhost:0", 0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/connections", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /connections: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestConnectionsWebSocketStream(t *testing.T) {
	srv := NewServer(&stubRunner{report: healthyReport()}, "localhost:0", 50*time.Millisecond, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connections/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// First report arrives immediately, second after one interval.
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var report gateway.Report
		if err := conn.ReadJSON(&report); err != nil {
			t.Fatalf("read report %d: %v", i, err)
		}
		if report.ID != "test-report" {
			t.Errorf("report %d id = %q", i, report.ID)
		}
	}
}
