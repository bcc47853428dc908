// Package httpx provides the authenticated HTTP session used by every
// HTTP-based backend client in the gateway.
//
// A Session is a thin layer over net/http: a set of default headers
// applied to every outgoing request, explicit TLS configuration, and an
// explicit default timeout. Backend clients (LLM, vector store, graph
// HTTP, chain LCD) receive a Session instead of building their own
// http.Client, so authentication is configured in exactly one place.
package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// insecureWarnOnce gates the disabled-TLS-verification warning to one log
// line per process, no matter how many insecure sessions are built.
var insecureWarnOnce sync.Once

// Session is a reusable HTTP client with default headers.
//
// The zero value is not usable; construct with NewSession. A Session is
// safe for concurrent use by multiple goroutines, same as http.Client.
type Session struct {
	client  *http.Client
	headers http.Header
}

// SessionOption configures a Session at construction time.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout   time.Duration
	headers   http.Header
	certPath  string
	insecure  bool
	transport http.RoundTripper
	logger    *slog.Logger
}

// WithTimeout sets the whole-request timeout. The default is 30 seconds;
// pass 0 to disable (not recommended outside tests).
func WithTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.timeout = d }
}

// WithHeader adds a default header sent on every request.
func WithHeader(key, value string) SessionOption {
	return func(c *sessionConfig) { c.headers.Set(key, value) }
}

// WithServerCert trusts the PEM certificate at path in addition to the
// system pool. Used for the proxy's self-signed certificate.
func WithServerCert(path string) SessionOption {
	return func(c *sessionConfig) { c.certPath = path }
}

// WithInsecureSkipVerify disables TLS certificate verification. The
// associated warning is logged once per process.
func WithInsecureSkipVerify() SessionOption {
	return func(c *sessionConfig) { c.insecure = true }
}

// WithTransport replaces the base transport, e.g. to wrap it with a
// RetryPolicy. TLS options are applied only to the built-in transport.
func WithTransport(rt http.RoundTripper) SessionOption {
	return func(c *sessionConfig) { c.transport = rt }
}

// WithLogger sets the logger used for session-level warnings.
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// NewSession builds a session. A bad certificate path is the only
// construction failure.
func NewSession(opts ...SessionOption) (*Session, error) {
	cfg := &sessionConfig{
		timeout: 30 * time.Second,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	transport := cfg.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			t.TLSClientConfig = tlsCfg
		}
		transport = t
	}

	return &Session{
		client: &http.Client{
			Timeout:   cfg.timeout,
			Transport: transport,
		},
		headers: cfg.headers,
	}, nil
}

func buildTLSConfig(cfg *sessionConfig) (*tls.Config, error) {
	if cfg.certPath != "" {
		pem, err := os.ReadFile(cfg.certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read server certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no PEM certificates found in %s", cfg.certPath)
		}
		return &tls.Config{RootCAs: pool}, nil
	}
	if cfg.insecure {
		insecureWarnOnce.Do(func() {
			cfg.logger.Warn("TLS certificate verification disabled for outgoing requests")
		})
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	return nil, nil
}

// Header reports the default header value the session sends, or "" when
// unset. Exists so callers can verify auth wiring without a request.
func (s *Session) Header(key string) string {
	return s.headers.Get(key)
}

// SetHeader adds or replaces a default header after construction. Used
// for service-layer credentials applied on top of the proxy key.
func (s *Session) SetHeader(key, value string) {
	s.headers.Set(key, value)
}

// Do sends an HTTP request with the session's default headers applied.
// Headers already present on the request are not overwritten.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	for key, values := range s.headers {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return s.client.Do(req)
}

// Get issues a GET request to url.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.Do(req)
}

// PostJSON issues a POST request with body marshaled as JSON.
func (s *Session) PostJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.Do(req)
}

// Delete issues a DELETE request to url.
func (s *Session) Delete(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.Do(req)
}
