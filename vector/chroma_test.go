package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scrtlabs/secret-agent-go/httpx"
)

func newTestSession(t *testing.T) *httpx.Session {
	t.Helper()
	session, err := httpx.NewSession(httpx.WithHeader("X-API-Key", "sa-key"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func TestDualLayerAuthHeaders(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(newTestSession(t), server.URL, "sa-key")
	if err := client.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if gotKey != "sa-key" {
		t.Errorf("proxy layer X-API-Key = %q", gotKey)
	}
	if gotAuth != "Bearer sa-key" {
		t.Errorf("service layer Authorization = %q, want bearer token", gotAuth)
	}
}

func TestNoTokenLeavesServiceLayerUnset(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	session, err := httpx.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	client := NewClient(session, server.URL, "")
	if err := client.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty without token", gotAuth)
	}
}

func TestHeartbeatPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(newTestSession(t), server.URL, "")
	if err := client.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if gotPath != "/api/v2/heartbeat" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestCollectionLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/collections", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(Collection{ID: "c1", Name: body["name"].(string)})
	})
	mux.HandleFunc("GET /api/v2/collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Collection{{ID: "c1", Name: "docs"}})
	})
	mux.HandleFunc("POST /api/v2/collections/docs/add", func(w http.ResponseWriter, r *http.Request) {
		var req AddRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.IDs) != 2 || req.Documents[1] != "second" {
			http.Error(w, "bad add request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`true`))
	})
	mux.HandleFunc("POST /api/v2/collections/docs/query", func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.NResults != 2 {
			http.Error(w, "bad n_results", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(QueryResult{
			IDs:       [][]string{{"d1", "d2"}},
			Documents: [][]string{{"first", "second"}},
		})
	})
	mux.HandleFunc("GET /api/v2/collections/docs/count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`2`))
	})
	mux.HandleFunc("DELETE /api/v2/collections/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`true`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	client := NewClient(newTestSession(t), server.URL, "")

	created, err := client.CreateCollection(ctx, "docs", map[string]any{"source": "test"})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if created.Name != "docs" {
		t.Errorf("created name = %q", created.Name)
	}

	collections, err := client.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(collections) != 1 || collections[0].Name != "docs" {
		t.Errorf("collections = %+v", collections)
	}

	err = client.Add(ctx, "docs", AddRequest{
		IDs:       []string{"d1", "d2"},
		Documents: []string{"first", "second"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	result, err := client.Query(ctx, "docs", QueryRequest{QueryTexts: []string{"first"}, NResults: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.IDs) != 1 || result.IDs[0][0] != "d1" {
		t.Errorf("query result = %+v", result)
	}

	count, err := client.Count(ctx, "docs")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d", count)
	}

	if err := client.DeleteCollection(ctx, "docs"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
}

func TestAddRequiresIDs(t *testing.T) {
	client := NewClient(newTestSession(t), "http://localhost:8000", "")
	if err := client.Add(context.Background(), "docs", AddRequest{}); err == nil {
		t.Fatal("expected error for empty add request")
	}
}

func TestQueryDefaultsNResults(t *testing.T) {
	var gotReq QueryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(QueryResult{})
	}))
	defer server.Close()

	client := NewClient(newTestSession(t), server.URL, "")
	if _, err := client.Query(context.Background(), "docs", QueryRequest{QueryTexts: []string{"q"}}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if gotReq.NResults != 5 {
		t.Errorf("n_results = %d, want default 5", gotReq.NResults)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(newTestSession(t), server.URL, "")
	if err := client.Heartbeat(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}
