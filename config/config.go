// Package config loads gateway configuration from environment variables.
//
// Every knob the gateway understands is an environment variable, matching
// the deployment contract of the agent stack: credentials come from the
// container environment, URLs default to the local Caddy reverse proxy in
// proxied mode and to the well-known local service ports in direct mode.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Environment variable names consumed by the gateway.
const (
	EnvAPIKey        = "API_KEY"
	EnvGraphPassword = "NEO4J_PASSWORD"
	EnvCachePassword = "REDIS_PASSWORD"
	EnvLLMURL        = "OLLAMA_URL"
	EnvLLMModel      = "OLLAMA_MODEL"
	EnvVectorURL     = "CHROMA_URL"
	EnvGraphHTTPURL  = "NEO4J_URL"
	EnvGraphBoltURL  = "NEO4J_BOLT_URL"
	EnvSSLCertPath   = "SSL_CERT_PATH"
	EnvCachePort     = "REDIS_PORT"
	EnvCacheAddr     = "REDIS_ADDR"
	EnvChainRPCURL   = "SCRT_RPC_URL"
	EnvChainID       = "SCRT_CHAIN_ID"
	EnvWalletAddress = "SCRT_WALLET_ADDRESS"
)

// Default endpoints. The proxied defaults assume the Caddy reverse proxy
// terminating TLS on port 18343 with per-service path prefixes; the direct
// defaults are the services' native listening ports.
const (
	DefaultProxiedLLMURL       = "https://localhost:18343/ollama"
	DefaultProxiedVectorURL    = "https://localhost:18343/chroma"
	DefaultProxiedGraphHTTPURL = "https://localhost:18343/neo4j"

	DefaultDirectLLMURL       = "http://localhost:11434"
	DefaultDirectVectorURL    = "http://localhost:8000"
	DefaultDirectGraphHTTPURL = "http://localhost:7474"

	// Bolt and Redis are never proxied: Caddy only understands HTTP
	// framing, so these stay direct in both modes.
	DefaultGraphBoltURL = "bolt://localhost:7687"
	DefaultCacheAddr    = "localhost:6379"

	DefaultLLMModel    = "llama2"
	DefaultChainRPCURL = "https://lcd.mainnet.secretsaturn.net"
	DefaultChainID     = "secret-4"

	// DefaultRequestTimeout is the outbound HTTP timeout applied when a
	// caller does not set one explicitly.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultProbeTimeout bounds each individual backend probe during a
	// connection test.
	DefaultProbeTimeout = 5 * time.Second
)

// Config is the full configuration surface of the gateway, resolved once
// from the environment and passed down explicitly. There is no package
// level singleton; construct it and hand it to whoever needs it.
type Config struct {
	// Credentials.
	APIKey        string
	GraphPassword string
	CachePassword string

	// Endpoint overrides. Empty means "use the mode default".
	LLMURL       string
	VectorURL    string
	GraphHTTPURL string
	GraphBoltURL string
	CacheAddr    string

	// TLS.
	SSLCertPath string

	// LLM.
	LLMModel string

	// Secret Network.
	ChainRPCURL   string
	ChainID       string
	WalletAddress string
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		APIKey:        os.Getenv(EnvAPIKey),
		GraphPassword: os.Getenv(EnvGraphPassword),
		CachePassword: os.Getenv(EnvCachePassword),
		LLMURL:        os.Getenv(EnvLLMURL),
		VectorURL:     os.Getenv(EnvVectorURL),
		GraphHTTPURL:  os.Getenv(EnvGraphHTTPURL),
		GraphBoltURL:  os.Getenv(EnvGraphBoltURL),
		CacheAddr:     cacheAddrFromEnv(),
		SSLCertPath:   os.Getenv(EnvSSLCertPath),
		LLMModel:      getenvDefault(EnvLLMModel, DefaultLLMModel),
		ChainRPCURL:   getenvDefault(EnvChainRPCURL, DefaultChainRPCURL),
		ChainID:       getenvDefault(EnvChainID, DefaultChainID),
		WalletAddress: os.Getenv(EnvWalletAddress),
	}
}

// cacheAddrFromEnv resolves the Redis address. REDIS_ADDR wins; the legacy
// REDIS_PORT knob keeps the host at localhost and overrides only the port.
func cacheAddrFromEnv() string {
	if addr := os.Getenv(EnvCacheAddr); addr != "" {
		return addr
	}
	if port := os.Getenv(EnvCachePort); port != "" {
		return "localhost:" + port
	}
	return ""
}

// Validate checks every field that can be checked without touching the
// network and returns all problems joined into a single error. Callers
// that want fail-fast startup run this once; the gateway itself stays
// lazy and only complains about a credential when a handle needing it is
// requested.
func (c Config) Validate() error {
	var errs []error

	for _, u := range []struct {
		name  string
		value string
	}{
		{EnvLLMURL, c.LLMURL},
		{EnvVectorURL, c.VectorURL},
		{EnvGraphHTTPURL, c.GraphHTTPURL},
		{EnvGraphBoltURL, c.GraphBoltURL},
		{EnvChainRPCURL, c.ChainRPCURL},
	} {
		if u.value == "" {
			continue
		}
		if _, err := url.Parse(u.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid URL %q: %w", u.name, u.value, err))
		}
	}

	if c.CacheAddr != "" {
		if _, portStr, err := net.SplitHostPort(c.CacheAddr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvCacheAddr, err))
		} else if _, err := strconv.Atoi(portStr); err != nil {
			errs = append(errs, fmt.Errorf("%s: non-numeric port in %q", EnvCacheAddr, c.CacheAddr))
		}
	}

	if c.SSLCertPath != "" {
		if _, err := os.Stat(c.SSLCertPath); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvSSLCertPath, err))
		}
	}

	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
