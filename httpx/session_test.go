package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSessionAppliesDefaultHeaders(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	session, err := NewSession(
		WithHeader("X-API-Key", "sa-key"),
		WithHeader("Authorization", "Basic abc"),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	resp, err := session.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if gotKey != "sa-key" {
		t.Errorf("X-API-Key = %q, want %q", gotKey, "sa-key")
	}
	if gotAuth != "Basic abc" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Basic abc")
	}
}

func TestSessionDoesNotOverwriteRequestHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-API-Key")
	}))
	defer server.Close()

	session, err := NewSession(WithHeader("X-API-Key", "default"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("X-API-Key", "explicit")
	resp, err := session.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if got != "explicit" {
		t.Errorf("X-API-Key = %q, want per-request value to win", got)
	}
}

func TestSessionPostJSON(t *testing.T) {
	var body []byte
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
	}))
	defer server.Close()

	session, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	resp, err := session.PostJSON(context.Background(), server.URL, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	resp.Body.Close()

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if string(body) != `{"k":"v"}` {
		t.Errorf("body = %s", body)
	}
}

// countingHandler counts warn-level records.
type countingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		h.mu.Lock()
		h.count++
		h.mu.Unlock()
	}
	return nil
}
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func TestInsecureWarningLoggedOncePerProcess(t *testing.T) {
	handler := &countingHandler{}
	logger := slog.New(handler)

	for i := 0; i < 3; i++ {
		if _, err := NewSession(WithInsecureSkipVerify(), WithLogger(logger)); err != nil {
			t.Fatalf("NewSession: %v", err)
		}
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.count > 1 {
		t.Errorf("insecure warning logged %d times, want at most once", handler.count)
	}
}

func TestRetryPolicyRetriesServerErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := NewRetryPolicy(http.DefaultTransport, RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})
	session, err := NewSession(WithTransport(policy))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	resp, err := session.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after retries", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := NewRetryPolicy(http.DefaultTransport, RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	session, err := NewSession(WithTransport(policy))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	resp, err := session.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want the final failure surfaced", resp.StatusCode)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicyDoesNotMutateRequest(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	policy := NewRetryPolicy(http.DefaultTransport, RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"n":1}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	origBody := req.Body

	resp, err := policy.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	if req.Body != origBody {
		t.Error("RoundTrip replaced the caller's request body")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after retry", resp.StatusCode)
	}
}

func TestRetryPolicyReplaysRequestBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	policy := NewRetryPolicy(http.DefaultTransport, RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	session, err := NewSession(WithTransport(policy))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	resp, err := session.PostJSON(context.Background(), server.URL, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("got %d attempts, want 2", len(bodies))
	}
	if bodies[0] != bodies[1] {
		t.Errorf("body not replayed: %q vs %q", bodies[0], bodies[1])
	}
}
