// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode selects how caller identities are resolved. Exactly one mode is
// active for the lifetime of the process.
type AuthMode string

const (
	// AuthModeStatic assigns every request one preconfigured upstream token.
	AuthModeStatic AuthMode = "static"
	// AuthModePassthrough requires the raw upstream token in a custom header.
	AuthModePassthrough AuthMode = "passthrough"
	// AuthModeOAuthProxy validates proxy-issued bearer tokens and resolves
	// them to the real upstream token through the grant store.
	AuthModeOAuthProxy AuthMode = "oauth-proxy"
)

const (
	envListenAddr          = "MCP_LISTEN_ADDR"
	envTransport           = "MCP_TRANSPORT"
	envUpstreamURLs        = "MCP_UPSTREAM_URLS"
	envDynamicRouting      = "MCP_DYNAMIC_ROUTING"
	envRouteHintHeader     = "MCP_ROUTE_HINT_HEADER"
	envAuthMode            = "MCP_AUTH_MODE"
	envStaticToken         = "MCP_STATIC_TOKEN"
	envPassthroughHeader   = "MCP_PASSTHROUGH_HEADER"
	envFingerprintSalt     = "MCP_FINGERPRINT_SALT"
	envOAuthSigningSecret  = "MCP_OAUTH_SIGNING_SECRET"
	envOAuthTokenTTL       = "MCP_OAUTH_TOKEN_TTL"
	envAPIKey              = "MCP_API_KEY"
	envAPISecret           = "MCP_API_SECRET"
	envRequestTimeout      = "MCP_REQUEST_TIMEOUT"
	envWarmupTimeout       = "MCP_WARMUP_TIMEOUT"
	envInsecureSkipVerify  = "MCP_UPSTREAM_INSECURE"
	envLogLevel            = "MCP_LOG_LEVEL"
	envServerReadTimeout   = "MCP_SERVER_READ_TIMEOUT"
	envServerWriteTimeout  = "MCP_SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout   = "MCP_SERVER_IDLE_TIMEOUT"
	envGracefulShutdown    = "MCP_GRACEFUL_SHUTDOWN"
	defaultListenAddr      = "127.0.0.1:8080"
	defaultRouteHintHeader = "x-mcp-upstream"
	defaultPassthrough     = "x-upstream-token"
	defaultOAuthTokenTTL   = time.Hour
	defaultRequestTimeout  = 15 * time.Second
	defaultWarmupTimeout   = 3 * time.Second
	defaultLogLevel        = "info"
	defaultServerRead      = 30 * time.Second
	defaultServerWrite     = 30 * time.Second
	defaultServerIdle      = 120 * time.Second
	defaultGraceful        = 10 * time.Second
)

// Transport identifiers accepted by MCP_TRANSPORT.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config captures runtime settings for the gateway.
type Config struct {
	ListenAddr string
	// Transport selects the inbound surface: "http" serves the SSE,
	// websocket and single-shot endpoints; "stdio" runs the sessionless
	// framed channel on stdin/stdout.
	Transport string
	// Upstreams is the ordered, immutable whitelist of upstream base URLs.
	// The first entry is the default routing target.
	Upstreams []*url.URL
	// DynamicRouting enables per-session backend selection via the hint
	// header. With a single upstream the flag has no effect.
	DynamicRouting  bool
	RouteHintHeader string

	AuthMode          AuthMode
	StaticToken       string
	PassthroughHeader string
	// FingerprintSalt is the process-wide salt mixed into token
	// fingerprints. Required for session-bearing transports.
	FingerprintSalt []byte
	// OAuthSigningSecret signs proxy-issued bearer tokens in oauth-proxy mode.
	OAuthSigningSecret string
	OAuthTokenTTL      time.Duration

	// APIKey/APISecret optionally enable HMAC request signing toward
	// upstreams fronted by an auth gateway. Empty disables signing.
	APIKey    string
	APISecret string

	RequestTimeout     time.Duration
	WarmupTimeout      time.Duration
	InsecureSkipVerify bool

	LogLevel                string
	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and validates required values.
func Load() (Config, error) {
	upstreamsRaw := strings.TrimSpace(os.Getenv(envUpstreamURLs))
	if upstreamsRaw == "" {
		return Config{}, errors.New("MCP_UPSTREAM_URLS is required")
	}

	var upstreams []*url.URL
	for _, raw := range strings.Split(upstreamsRaw, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid upstream URL %q: %w", raw, err)
		}
		if !u.IsAbs() {
			return Config{}, fmt.Errorf("upstream URL %q must be absolute (scheme://host)", raw)
		}
		upstreams = append(upstreams, u)
	}
	if len(upstreams) == 0 {
		return Config{}, errors.New("MCP_UPSTREAM_URLS contains no usable entries")
	}

	transport := getString(envTransport, TransportHTTP)
	if transport != TransportHTTP && transport != TransportStdio {
		return Config{}, fmt.Errorf("unknown MCP_TRANSPORT %q", transport)
	}

	mode := AuthMode(getString(envAuthMode, string(AuthModeStatic)))
	switch mode {
	case AuthModeStatic, AuthModePassthrough, AuthModeOAuthProxy:
	default:
		return Config{}, fmt.Errorf("unknown MCP_AUTH_MODE %q", mode)
	}

	cfg := Config{
		ListenAddr:              getString(envListenAddr, defaultListenAddr),
		Transport:               transport,
		Upstreams:               upstreams,
		DynamicRouting:          getBool(envDynamicRouting, false),
		RouteHintHeader:         getString(envRouteHintHeader, defaultRouteHintHeader),
		AuthMode:                mode,
		StaticToken:             strings.TrimSpace(os.Getenv(envStaticToken)),
		PassthroughHeader:       getString(envPassthroughHeader, defaultPassthrough),
		FingerprintSalt:         []byte(strings.TrimSpace(os.Getenv(envFingerprintSalt))),
		OAuthSigningSecret:      strings.TrimSpace(os.Getenv(envOAuthSigningSecret)),
		OAuthTokenTTL:           getDuration(envOAuthTokenTTL, defaultOAuthTokenTTL),
		APIKey:                  strings.TrimSpace(os.Getenv(envAPIKey)),
		APISecret:               strings.TrimSpace(os.Getenv(envAPISecret)),
		RequestTimeout:          getDuration(envRequestTimeout, defaultRequestTimeout),
		WarmupTimeout:           getDuration(envWarmupTimeout, defaultWarmupTimeout),
		InsecureSkipVerify:      getBool(envInsecureSkipVerify, false),
		LogLevel:                strings.ToLower(getString(envLogLevel, defaultLogLevel)),
		ServerReadTimeout:       getDuration(envServerReadTimeout, defaultServerRead),
		ServerWriteTimeout:      getDuration(envServerWriteTimeout, defaultServerWrite),
		ServerIdleTimeout:       getDuration(envServerIdleTimeout, defaultServerIdle),
		GracefulShutdownTimeout: getDuration(envGracefulShutdown, defaultGraceful),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.AuthMode == AuthModeStatic && c.StaticToken == "" {
		return errors.New("MCP_STATIC_TOKEN is required in static auth mode")
	}
	if c.AuthMode == AuthModeOAuthProxy && c.OAuthSigningSecret == "" {
		return errors.New("MCP_OAUTH_SIGNING_SECRET is required in oauth-proxy auth mode")
	}
	if c.Transport == TransportHTTP && len(c.FingerprintSalt) == 0 {
		return errors.New("MCP_FINGERPRINT_SALT is required for session-bearing transports")
	}
	if c.Transport == TransportStdio && c.AuthMode != AuthModeStatic {
		return errors.New("stdio transport carries no per-request credentials; only static auth mode applies")
	}
	if (c.APIKey == "") != (c.APISecret == "") {
		return errors.New("MCP_API_KEY and MCP_API_SECRET must be set together")
	}
	return nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
