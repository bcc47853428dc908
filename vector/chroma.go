// Package vector provides the ChromaDB REST client used as the agent's
// vector knowledge store.
//
// Authentication is dual-layer in proxied deployments: the injected
// session carries the proxy's X-API-Key header, and the client adds
// Chroma's native bearer token on top. The two layers are independent;
// rotating one never requires rotating the other.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scrtlabs/secret-agent-go/httpx"
)

// Collection describes a Chroma collection.
type Collection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AddRequest carries documents to embed into a collection.
type AddRequest struct {
	IDs        []string         `json:"ids"`
	Documents  []string         `json:"documents,omitempty"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
	Embeddings [][]float64      `json:"embeddings,omitempty"`
}

// QueryRequest is a nearest-neighbor query against a collection.
type QueryRequest struct {
	QueryTexts      []string       `json:"query_texts,omitempty"`
	QueryEmbeddings [][]float64    `json:"query_embeddings,omitempty"`
	NResults        int            `json:"n_results,omitempty"`
	Where           map[string]any `json:"where,omitempty"`
}

// QueryResult holds per-query result columns as returned by Chroma.
type QueryResult struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// Client talks to a Chroma server over its v2 REST API.
type Client struct {
	baseURL string
	session *httpx.Session
}

// NewClient creates a Chroma client rooted at baseURL. apiToken, when
// non-empty, enables Chroma's native token auth on top of whatever the
// session already carries.
func NewClient(session *httpx.Session, baseURL, apiToken string) *Client {
	if apiToken != "" {
		session.SetHeader("Authorization", "Bearer "+apiToken)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
	}
}

// BaseURL returns the resolved server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) url(path string) string {
	return c.baseURL + "/api/v2" + path
}

func decodeOrError(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma API error (%d): %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Heartbeat checks server liveness; the gateway's connectivity probe.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.session.Get(ctx, c.url("/heartbeat"))
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	return decodeOrError(resp, nil)
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.session.Get(ctx, c.url("/version"))
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	var version string
	if err := decodeOrError(resp, &version); err != nil {
		return "", err
	}
	return version, nil
}

// ListCollections returns all collections.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	resp, err := c.session.Get(ctx, c.url("/collections"))
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	var collections []Collection
	if err := decodeOrError(resp, &collections); err != nil {
		return nil, err
	}
	return collections, nil
}

// CreateCollection creates a collection with the given name and metadata.
func (c *Client) CreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error) {
	body := map[string]any{"name": name}
	if metadata != nil {
		body["metadata"] = metadata
	}
	resp, err := c.session.PostJSON(ctx, c.url("/collections"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	var collection Collection
	if err := decodeOrError(resp, &collection); err != nil {
		return nil, err
	}
	return &collection, nil
}

// DeleteCollection removes a collection by name.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	resp, err := c.session.Delete(ctx, c.url("/collections/"+name))
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	return decodeOrError(resp, nil)
}

// Add embeds documents into the named collection.
func (c *Client) Add(ctx context.Context, collection string, req AddRequest) error {
	if len(req.IDs) == 0 {
		return fmt.Errorf("add request requires at least one id")
	}
	resp, err := c.session.PostJSON(ctx, c.url("/collections/"+collection+"/add"), req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	return decodeOrError(resp, nil)
}

// Query runs a nearest-neighbor search in the named collection.
func (c *Client) Query(ctx context.Context, collection string, req QueryRequest) (*QueryResult, error) {
	if req.NResults <= 0 {
		req.NResults = 5
	}
	resp, err := c.session.PostJSON(ctx, c.url("/collections/"+collection+"/query"), req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	var result QueryResult
	if err := decodeOrError(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Count returns the number of documents in the named collection.
func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	resp, err := c.session.Get(ctx, c.url("/collections/"+collection+"/count"))
	if err != nil {
		return 0, fmt.Errorf("failed to make request: %w", err)
	}
	var count int
	if err := decodeOrError(resp, &count); err != nil {
		return 0, err
	}
	return count, nil
}
