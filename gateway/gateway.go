// Package gateway centralizes credential sourcing and hands out
// pre-authenticated client handles for every backend the agent talks to:
// the Ollama LLM API, the Chroma vector store, the Neo4j knowledge graph
// (bolt and HTTP), the Redis cache, and the Secret Network LCD.
//
// Two independent authentication layers exist. The proxy layer is a
// shared X-API-Key header enforced uniformly by the reverse proxy on all
// HTTP traffic; the service layer is each backend's native mechanism
// (basic auth, bearer token, password). Rotating one never requires
// rotating the other.
//
// There is no package-level singleton. Construct a Gateway explicitly
// and pass it (or individual handles) to consumers:
//
//	gw := gateway.New(config.FromEnv(), gateway.WithMode(gateway.ModeProxied))
//	store, err := gw.VectorStore()
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrtlabs/secret-agent-go/cache"
	"github.com/scrtlabs/secret-agent-go/config"
	"github.com/scrtlabs/secret-agent-go/graph"
	"github.com/scrtlabs/secret-agent-go/httpx"
	"github.com/scrtlabs/secret-agent-go/llm"
	"github.com/scrtlabs/secret-agent-go/scrt"
	"github.com/scrtlabs/secret-agent-go/vector"
)

// HeaderAPIKey is the proxy layer's shared-secret header.
const HeaderAPIKey = "X-API-Key"

// Mode selects how HTTP backends are reached.
type Mode int

const (
	// ModeProxied routes HTTP traffic through the reverse proxy, which
	// enforces the shared API key.
	ModeProxied Mode = iota

	// ModeDirect talks to each service's native port. Local development.
	ModeDirect
)

func (m Mode) String() string {
	if m == ModeDirect {
		return "direct"
	}
	return "proxied"
}

// Endpoints holds the per-backend base URLs, resolved once at
// construction. The bolt URL and the cache address never depend on the
// mode: the proxy only understands HTTP framing, so those protocols are
// carved out as always-direct.
type Endpoints struct {
	LLMURL       string
	VectorURL    string
	GraphHTTPURL string
	GraphBoltURL string
	CacheAddr    string
	ChainURL     string
}

// TLSOptions configures the TLS posture of outgoing HTTP sessions.
type TLSOptions struct {
	// ServerCertPath points at a PEM certificate to trust, typically the
	// proxy's self-signed cert.
	ServerCertPath string

	// InsecureSkipVerify disables certificate verification entirely.
	// The associated warning is logged once per process.
	InsecureSkipVerify bool
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithMode sets the deployment mode. Default: ModeProxied.
func WithMode(m Mode) Option {
	return func(g *Gateway) { g.mode = m }
}

// WithTLS sets TLS options for outgoing sessions.
func WithTLS(opts TLSOptions) Option {
	return func(g *Gateway) { g.tls = opts }
}

// WithRequestTimeout sets the outbound HTTP timeout. Default 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.requestTimeout = d }
}

// WithProbeTimeout bounds each backend probe in TestConnections.
// Default 5s.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.probeTimeout = d }
}

// WithLogger sets the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithTransport wraps every HTTP session's transport, e.g. with an
// httpx.RetryPolicy. The gateway applies no retries by default.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) { g.transport = rt }
}

// Gateway builds and caches one authenticated handle per backend.
// Handles are constructed lazily on first access; configuration
// resolution is idempotent, so repeated calls return handles targeting
// the same resolved URL. All accessors are safe for concurrent use.
type Gateway struct {
	cfg            config.Config
	mode           Mode
	tls            TLSOptions
	requestTimeout time.Duration
	probeTimeout   time.Duration
	transport      http.RoundTripper
	log            *slog.Logger

	endpoints Endpoints

	llmOnce sync.Once
	llmSess *httpx.Session
	llmErr  error
	llmCli  *llm.Client

	vecOnce sync.Once
	vec     *vector.Client
	vecErr  error

	boltOnce sync.Once
	bolt     *graph.Driver
	boltErr  error

	graphHTTPOnce sync.Once
	graphHTTPSess *httpx.Session
	graphHTTP     *graph.HTTPClient
	graphHTTPErr  error

	cacheOnce sync.Once
	cacheCli  *cache.Client

	chainOnce sync.Once
	chainSess *httpx.Session
	chainCli  *scrt.Client
	chainErr  error
}

// New creates a gateway over cfg. Credentials left empty in cfg stay
// empty; validation is lazy and happens when a handle needing the
// missing piece is requested (use cfg.Validate for fail-fast startup).
func New(cfg config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:            cfg,
		mode:           ModeProxied,
		requestTimeout: config.DefaultRequestTimeout,
		probeTimeout:   config.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if cfg.SSLCertPath != "" && g.tls.ServerCertPath == "" {
		g.tls.ServerCertPath = cfg.SSLCertPath
	}
	g.endpoints = ResolveEndpoints(cfg, g.mode)
	return g
}

// Mode returns the deployment mode the gateway was built with.
func (g *Gateway) Mode() Mode {
	return g.mode
}

// Endpoints returns the resolved per-backend URLs.
func (g *Gateway) Endpoints() Endpoints {
	return g.endpoints
}

// ResolveEndpoints derives the per-backend base URLs from configuration
// and mode. Environment overrides win in both modes; mode only selects
// the defaults. Bolt, cache and chain endpoints are mode-independent.
func ResolveEndpoints(cfg config.Config, mode Mode) Endpoints {
	e := Endpoints{
		GraphBoltURL: orDefault(cfg.GraphBoltURL, config.DefaultGraphBoltURL),
		CacheAddr:    orDefault(cfg.CacheAddr, config.DefaultCacheAddr),
		ChainURL:     orDefault(cfg.ChainRPCURL, config.DefaultChainRPCURL),
	}
	if mode == ModeProxied {
		e.LLMURL = orDefault(cfg.LLMURL, config.DefaultProxiedLLMURL)
		e.VectorURL = orDefault(cfg.VectorURL, config.DefaultProxiedVectorURL)
		e.GraphHTTPURL = orDefault(cfg.GraphHTTPURL, config.DefaultProxiedGraphHTTPURL)
	} else {
		e.LLMURL = orDefault(cfg.LLMURL, config.DefaultDirectLLMURL)
		e.VectorURL = orDefault(cfg.VectorURL, config.DefaultDirectVectorURL)
		e.GraphHTTPURL = orDefault(cfg.GraphHTTPURL, config.DefaultDirectGraphHTTPURL)
	}
	return e
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// newSession builds an HTTP session with the gateway's TLS posture and
// timeout. The proxy-layer API key header is attached in proxied mode
// only, and only when a key is configured.
func (g *Gateway) newSession(extra ...httpx.SessionOption) (*httpx.Session, error) {
	opts := []httpx.SessionOption{
		httpx.WithTimeout(g.requestTimeout),
		httpx.WithLogger(g.log),
	}
	if g.tls.ServerCertPath != "" {
		opts = append(opts, httpx.WithServerCert(g.tls.ServerCertPath))
	} else if g.tls.InsecureSkipVerify {
		opts = append(opts, httpx.WithInsecureSkipVerify())
	}
	if g.transport != nil {
		opts = append(opts, httpx.WithTransport(g.transport))
	}
	if g.mode == ModeProxied && g.cfg.APIKey != "" {
		opts = append(opts, httpx.WithHeader(HeaderAPIKey, g.cfg.APIKey))
	}
	return httpx.NewSession(append(opts, extra...)...)
}

// LLMSession returns the shared HTTP session for the LLM API, created
// once and reused across calls.
func (g *Gateway) LLMSession() (*httpx.Session, error) {
	g.llmOnce.Do(func() {
		g.llmSess, g.llmErr = g.newSession()
		if g.llmErr != nil {
			g.llmErr = NewConfigurationError("ollama", g.llmErr.Error())
			return
		}
		g.llmCli = llm.NewClient(g.llmSess, g.endpoints.LLMURL, g.cfg.LLMModel)
	})
	return g.llmSess, g.llmErr
}

// LLM returns the Ollama client over the shared LLM session.
func (g *Gateway) LLM() (*llm.Client, error) {
	if _, err := g.LLMSession(); err != nil {
		return nil, err
	}
	return g.llmCli, nil
}

// VectorStore returns the Chroma client. In proxied mode the handle
// carries both the proxy key and Chroma's native bearer token (both
// layers enforced independently).
func (g *Gateway) VectorStore() (*vector.Client, error) {
	g.vecOnce.Do(func() {
		if g.endpoints.VectorURL == "" {
			g.vecErr = NewConfigurationError("chroma", "no vector store URL resolved")
			return
		}
		sess, err := g.newSession()
		if err != nil {
			g.vecErr = NewConfigurationError("chroma", err.Error())
			return
		}
		token := ""
		if g.mode == ModeProxied {
			token = g.cfg.APIKey
		}
		g.vec = vector.NewClient(sess, g.endpoints.VectorURL, token)
	})
	return g.vec, g.vecErr
}

// GraphDriver returns the bolt driver. Bolt always bypasses the proxy
// and authenticates as the fixed principal with the graph password.
// A missing password is reported here, not at gateway construction;
// a wrong password surfaces from the driver on first use.
func (g *Gateway) GraphDriver() (*graph.Driver, error) {
	g.boltOnce.Do(func() {
		if g.cfg.GraphPassword == "" {
			g.boltErr = NewConfigurationError("neo4j", "graph password not configured (set "+config.EnvGraphPassword+")")
			return
		}
		driver, err := graph.NewDriver(g.endpoints.GraphBoltURL, g.cfg.GraphPassword)
		if err != nil {
			g.boltErr = NewConfigurationError("neo4j", err.Error())
			return
		}
		g.bolt = driver
	})
	return g.bolt, g.boltErr
}

// GraphHTTP returns the HTTP/Cypher client for the graph database. The
// session carries the proxy key (proxied mode only) and the service
// layer basic-auth header (always, when a password is configured).
func (g *Gateway) GraphHTTP() (*graph.HTTPClient, error) {
	g.graphHTTPOnce.Do(func() {
		sess, err := g.newSession()
		if err != nil {
			g.graphHTTPErr = NewConfigurationError("neo4j", err.Error())
			return
		}
		g.graphHTTPSess = sess
		g.graphHTTP = graph.NewHTTPClient(sess, g.endpoints.GraphHTTPURL, g.cfg.GraphPassword)
	})
	return g.graphHTTP, g.graphHTTPErr
}

// GraphHTTPSession returns the session behind GraphHTTP, for callers
// that need raw REST access.
func (g *Gateway) GraphHTTPSession() (*httpx.Session, error) {
	if _, err := g.GraphHTTP(); err != nil {
		return nil, err
	}
	return g.graphHTTPSess, nil
}

// Cache returns the Redis client. The cache is never reachable through
// the proxy; the connection is always direct and password-authenticated.
// An empty password is permitted for unauthenticated local instances.
func (g *Gateway) Cache() *cache.Client {
	g.cacheOnce.Do(func() {
		g.cacheCli = cache.NewClient(g.endpoints.CacheAddr, g.cfg.CachePassword)
	})
	return g.cacheCli
}

// Chain returns the Secret Network LCD client. The LCD sits outside the
// proxy, so the session never carries the shared key.
func (g *Gateway) Chain() (*scrt.Client, error) {
	g.chainOnce.Do(func() {
		sess, err := httpx.NewSession(
			httpx.WithTimeout(g.requestTimeout),
			httpx.WithLogger(g.log),
		)
		if err != nil {
			g.chainErr = NewConfigurationError("scrt", err.Error())
			return
		}
		g.chainSess = sess
		g.chainCli = scrt.NewClient(sess, g.endpoints.ChainURL, g.cfg.ChainID, g.cfg.WalletAddress)
	})
	return g.chainCli, g.chainErr
}

// Close releases pooled resources (bolt connections, redis pool).
// HTTP sessions hold no per-gateway resources beyond keep-alives.
func (g *Gateway) Close(ctx context.Context) error {
	var firstErr error
	if g.bolt != nil {
		if err := g.bolt.Close(ctx); err != nil {
			firstErr = fmt.Errorf("failed to close graph driver: %w", err)
		}
	}
	if g.cacheCli != nil {
		if err := g.cacheCli.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close cache client: %w", err)
		}
	}
	return firstErr
}

// Backend names used in connection reports, in probe order.
var Backends = []string{"ollama", "chroma", "neo4j", "redis", "scrt"}

// BackendStatus is the outcome of one backend probe.
type BackendStatus struct {
	Backend string        `json:"backend"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report aggregates one connection test run.
type Report struct {
	ID        string          `json:"id"`
	Mode      string          `json:"mode"`
	CheckedAt time.Time       `json:"checked_at"`
	Backends  []BackendStatus `json:"backends"`
}

// Healthy reports whether every backend probe succeeded.
func (r Report) Healthy() bool {
	for _, b := range r.Backends {
		if !b.OK {
			return false
		}
	}
	return true
}

// TestConnections probes every backend with a lightweight call and
// reports the outcome per backend. Failures — configuration, network or
// authentication — are captured as data, never returned: one backend
// going down must not hide the state of the others. The returned report
// always contains an entry for every name in Backends.
func (g *Gateway) TestConnections(ctx context.Context) Report {
	report := Report{
		ID:        uuid.NewString(),
		Mode:      g.mode.String(),
		CheckedAt: time.Now().UTC(),
	}
	probes := []struct {
		backend string
		probe   func(context.Context) (string, error)
	}{
		{"ollama", g.probeLLM},
		{"chroma", g.probeVector},
		{"neo4j", g.probeGraph},
		{"redis", g.probeCache},
		{"scrt", g.probeChain},
	}
	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, g.probeTimeout)
		start := time.Now()
		detail, err := p.probe(probeCtx)
		status := BackendStatus{
			Backend: p.backend,
			OK:      err == nil,
			Detail:  detail,
			Latency: time.Since(start),
		}
		if err != nil {
			status.Error = classifyProbeError(p.backend, err).Error()
		}
		report.Backends = append(report.Backends, status)
		cancel()
	}
	return report
}

// classifyProbeError keeps already-typed errors and folds everything
// else into a ConnectivityError for the report.
func classifyProbeError(backend string, err error) error {
	var cfgErr *ConfigurationError
	var authErr *AuthenticationError
	if errors.As(err, &cfgErr) || errors.As(err, &authErr) {
		return err
	}
	return NewConnectivityError(backend, "probe failed", err)
}

func (g *Gateway) probeLLM(ctx context.Context) (string, error) {
	client, err := g.LLM()
	if err != nil {
		return "", err
	}
	models, err := client.ListModels(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d models", len(models)), nil
}

func (g *Gateway) probeVector(ctx context.Context) (string, error) {
	client, err := g.VectorStore()
	if err != nil {
		return "", err
	}
	if err := client.Heartbeat(ctx); err != nil {
		return "", err
	}
	return "heartbeat ok", nil
}

func (g *Gateway) probeGraph(ctx context.Context) (string, error) {
	driver, err := g.GraphDriver()
	if err != nil {
		return "", err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		if graph.IsAuthError(err) {
			return "", NewAuthenticationError("neo4j", err)
		}
		return "", err
	}
	return "bolt reachable", nil
}

func (g *Gateway) probeCache(ctx context.Context) (string, error) {
	if err := g.Cache().Ping(ctx); err != nil {
		if cache.IsAuthError(err) {
			return "", NewAuthenticationError("redis", err)
		}
		return "", err
	}
	return "pong", nil
}

func (g *Gateway) probeChain(ctx context.Context) (string, error) {
	client, err := g.Chain()
	if err != nil {
		return "", err
	}
	info, err := client.NodeInfo(ctx)
	if err != nil {
		return "", err
	}
	return "network " + info.Network, nil
}
