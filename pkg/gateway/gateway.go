// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package gateway exposes the HTTP surface of the session gateway: the SSE
// channel pair, the websocket channel, the single-shot endpoint, the token
// exchange for oauth-proxy mode, and the unauthenticated health and metrics
// probes. Each inbound request runs the same core flow: resolve identity,
// bind or verify the session, route, dispatch.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/config"
	"github.com/go-core-stack/mcp-session-gateway/pkg/dispatch"
	"github.com/go-core-stack/mcp-session-gateway/pkg/metrics"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
	"github.com/go-core-stack/mcp-session-gateway/pkg/session"
	"github.com/go-core-stack/mcp-session-gateway/pkg/upstream"
)

// protocolVersion identifies the wire protocol spoken on every transport.
const protocolVersion = "jsonrpc-2.0"

// Gateway is the http.Handler fronting all session-bearing transports.
type Gateway struct {
	cfg        config.Config
	logger     zerolog.Logger
	baseCtx    context.Context
	resolver   *auth.Resolver
	registry   *session.Registry
	selector   *routing.Selector
	dispatcher *dispatch.Dispatcher
	grants     *auth.GrantStore
	mux        *http.ServeMux
}

// New wires the gateway core. baseCtx parents every session so process
// shutdown cascades to all in-flight work.
func New(baseCtx context.Context, cfg config.Config) (*Gateway, error) {
	logger := log.With().Str("component", "gateway").Logger()

	hasher, err := auth.NewHasher(cfg.FingerprintSalt)
	if err != nil {
		return nil, err
	}

	var grants *auth.GrantStore
	if cfg.AuthMode == config.AuthModeOAuthProxy {
		grants = auth.NewGrantStore(cfg.OAuthSigningSecret, cfg.OAuthTokenTTL)
	}

	resolver, err := auth.NewResolver(cfg, grants)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(hasher, log.Logger)
	m := metrics.New(func() float64 { return float64(registry.Len()) })
	executor := upstream.NewClient(cfg, log.Logger)

	g := &Gateway{
		cfg:        cfg,
		logger:     logger,
		baseCtx:    baseCtx,
		resolver:   resolver,
		registry:   registry,
		selector:   routing.NewSelector(cfg.Upstreams, cfg.DynamicRouting, log.Logger),
		dispatcher: dispatch.New(executor, m, cfg.WarmupTimeout, log.Logger),
		grants:     grants,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", g.handleSSE)
	mux.HandleFunc("POST /messages", g.handleMessages)
	mux.HandleFunc("GET /ws", g.handleWebSocket)
	mux.HandleFunc("POST /mcp", g.handleCall)
	mux.HandleFunc("DELETE /mcp", g.handleDelete)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("POST /oauth/token", g.handleTokenExchange)
	mux.HandleFunc("POST /oauth/revoke", g.handleTokenRevoke)
	mux.Handle("GET /metrics", m.Handler())
	g.mux = mux

	return g, nil
}

// ServeHTTP dispatches to the route table.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Registry exposes the session registry for shutdown draining.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

// authenticate resolves the request's credential and runs the binding
// protocol against sess. A request presenting no credential reuses the
// bound identity; on an unbound session it fails as missing.
func (g *Gateway) authenticate(r *http.Request, sess *session.Session) (*auth.Identity, error) {
	cred, err := g.resolver.Resolve(r.Header)
	if err != nil {
		if errors.Is(err, auth.ErrMissing) {
			if identity, reuseErr := sess.Reuse(); reuseErr == nil {
				return identity, nil
			}
		}
		return nil, err
	}

	hint := r.Header.Get(g.cfg.RouteHintHeader)
	identity, err := sess.Authenticate(cred, func() routing.Target {
		return g.selector.Select(hint)
	})
	if err != nil {
		return nil, err
	}

	sess.AfterBind(func() {
		g.dispatcher.Warmup(sess.Context(), sess)
	})

	return identity, nil
}

// writeError maps a failure to its boundary response. Auth failures are
// 401-equivalents carrying the reason string, which never includes a raw
// token.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var authErr *auth.Error
	switch {
	case errors.As(err, &authErr):
		status = authErr.Status()
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	targets := g.selector.Targets()
	upstreams := make([]string, len(targets))
	for i, t := range targets {
		upstreams[i] = t.URL.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"protocol":        protocolVersion,
		"transports":      []string{"sse", "websocket", "http"},
		"upstreams":       upstreams,
		"active_sessions": g.registry.Len(),
	})
}

// tokenExchangeRequest is the oauth-proxy token endpoint payload: the caller
// trades its real upstream token for a short-lived proxy bearer token.
type tokenExchangeRequest struct {
	UpstreamToken string   `json:"upstream_token"`
	Scopes        []string `json:"scopes,omitempty"`
}

func (g *Gateway) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if g.grants == nil {
		http.NotFound(w, r)
		return
	}

	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UpstreamToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "upstream_token is required"})
		return
	}

	proxyToken, err := g.grants.Issue(req.UpstreamToken, req.Scopes)
	if err != nil {
		g.logger.Error().Err(err).Msg("token exchange failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token issuance failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": proxyToken,
		"token_type":   "Bearer",
		"expires_in":   int(g.cfg.OAuthTokenTTL / time.Second),
	})
}

// tokenRevokeRequest names the proxy token whose grant should stop
// resolving.
type tokenRevokeRequest struct {
	Token string `json:"token"`
}

func (g *Gateway) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	if g.grants == nil {
		http.NotFound(w, r)
		return
	}

	var req tokenRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	// Revoking an unknown or already-revoked token is a no-op.
	g.grants.Revoke(req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
