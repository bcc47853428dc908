package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scrtlabs/secret-agent-go/httpx"
)

// Statement is one Cypher statement in a transaction commit request.
type Statement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommitResult is the decoded transaction endpoint response.
type CommitResult struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// HTTPClient accesses Neo4j through its HTTP Cypher transaction endpoint.
// Prefer Driver for most use; this path exists for deployments where only
// the proxied HTTP route is reachable.
type HTTPClient struct {
	baseURL string
	session *httpx.Session
}

// BasicAuthHeader builds the Authorization value for the fixed principal
// and the given password.
func BasicAuthHeader(password string) string {
	credentials := base64.StdEncoding.EncodeToString([]byte(Principal + ":" + password))
	return "Basic " + credentials
}

// NewHTTPClient creates an HTTP client rooted at baseURL. The service
// layer basic-auth header is set on the session whenever a password is
// given, independent of whatever proxy-layer header the session already
// carries.
func NewHTTPClient(session *httpx.Session, baseURL, password string) *HTTPClient {
	if password != "" {
		session.SetHeader("Authorization", BasicAuthHeader(password))
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
	}
}

// BaseURL returns the resolved HTTP URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Commit executes statements in a single auto-committed transaction.
func (c *HTTPClient) Commit(ctx context.Context, statements ...Statement) (*CommitResult, error) {
	body := map[string]any{"statements": statements}
	resp, err := c.session.PostJSON(ctx, c.baseURL+"/db/data/transaction/commit", body)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("neo4j rejected credentials (%d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("neo4j API error (%d): %s", resp.StatusCode, string(raw))
	}

	var result CommitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Errors) > 0 {
		return &result, fmt.Errorf("cypher error [%s]: %s", result.Errors[0].Code, result.Errors[0].Message)
	}
	return &result, nil
}
