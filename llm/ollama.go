// Package llm provides the client for the Ollama-compatible LLM API.
//
// The client carries no credentials of its own: authentication (the
// proxy's X-API-Key header) lives on the injected httpx.Session, so the
// same client code works in proxied and direct deployments.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrtlabs/secret-agent-go/httpx"
)

// Message is a single turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes one model reported by the list-models endpoint.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a completed (non-streaming) chat turn.
type ChatResponse struct {
	Message       Message
	Model         string
	Usage         Usage
	TotalDuration time.Duration
	Done          bool
}

// Client talks to an Ollama server.
type Client struct {
	baseURL string
	model   string
	session *httpx.Session
}

// NewClient creates a client for the server at baseURL using the given
// authenticated session. model is the default model for Generate and Chat.
func NewClient(session *httpx.Session, baseURL, model string) *Client {
	if model == "" {
		model = "llama2"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		session: session,
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the resolved server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []Message  `json:"messages"`
	Stream   bool       `json:"stream"`
	Options  *genParams `json:"options,omitempty"`
}

type generateRequest struct {
	Model   string     `json:"model"`
	Prompt  string     `json:"prompt"`
	System  string     `json:"system,omitempty"`
	Stream  bool       `json:"stream"`
	Options *genParams `json:"options,omitempty"`
}

type genParams struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // max tokens
	TopP        float64 `json:"top_p,omitempty"`
}

type chatWireResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Response  string  `json:"response"` // generate endpoint
	Done      bool    `json:"done"`
	// Metrics
	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// CallOption configures a single Generate or Chat call.
type CallOption func(*genParams)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(p *genParams) { p.Temperature = t }
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) CallOption {
	return func(p *genParams) { p.NumPredict = n }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) CallOption {
	return func(g *genParams) { g.TopP = p }
}

func buildParams(opts []CallOption) *genParams {
	if len(opts) == 0 {
		return nil
	}
	p := &genParams{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate produces a completion for a single prompt via /api/generate.
func (c *Client) Generate(ctx context.Context, prompt, system string, opts ...CallOption) (string, error) {
	reqBody := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Options: buildParams(opts),
	}

	resp, err := c.session.PostJSON(ctx, c.baseURL+"/api/generate", reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	var wire chatWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return wire.Response, nil
}

// Chat runs one non-streaming chat turn via /api/chat.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  buildParams(opts),
	}

	resp, err := c.session.PostJSON(ctx, c.baseURL+"/api/chat", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	var wire chatWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &ChatResponse{
		Message:       wire.Message,
		Model:         wire.Model,
		Done:          wire.Done,
		TotalDuration: time.Duration(wire.TotalDuration),
		Usage: Usage{
			PromptTokens:     wire.PromptEvalCount,
			CompletionTokens: wire.EvalCount,
			TotalTokens:      wire.PromptEvalCount + wire.EvalCount,
		},
	}, nil
}

// ChatStream runs a streaming chat turn. Chunks arrive on the returned
// message channel; the error channel carries at most one value after the
// message channel closes.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts ...CallOption) (<-chan Message, <-chan error) {
	msgChan := make(chan Message)
	errChan := make(chan error, 1)

	go func() {
		defer close(msgChan)
		defer close(errChan)

		reqBody := chatRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
			Options:  buildParams(opts),
		}

		resp, err := c.session.PostJSON(ctx, c.baseURL+"/api/chat", reqBody)
		if err != nil {
			errChan <- fmt.Errorf("failed to make request: %w", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errChan <- fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
			return
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk chatWireResponse
			if err := decoder.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				errChan <- fmt.Errorf("failed to decode chunk: %w", err)
				return
			}

			select {
			case msgChan <- chunk.Message:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}

			if chunk.Done {
				break
			}
		}

		errChan <- nil
	}()

	return msgChan, errChan
}

// ListModels returns the models available on the server via /api/tags.
// This is also the gateway's lightweight connectivity probe.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.session.Get(ctx, c.baseURL+"/api/tags")
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	var wire tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return wire.Models, nil
}
