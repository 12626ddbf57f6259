// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package upstream executes resolved operations against a selected backend
// with a resolved identity. It is an external collaborator from the
// gateway core's point of view: the dispatcher only sees the Executor
// contract and an opaque Error on failure.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/config"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// Executor runs one operation against one backend under one identity.
type Executor interface {
	Execute(ctx context.Context, identity *auth.Identity, target routing.Target, method string, params json.RawMessage) (json.RawMessage, error)
	// Ping performs the lightweight warm-up round-trip issued right after a
	// session binds. Its failure must never block real call dispatch.
	Ping(ctx context.Context, identity *auth.Identity, target routing.Target) error
}

// Error is the opaque passthrough of a backend rejection, stripped of
// transport-internal detail.
type Error struct {
	// Status preserves the HTTP status observed toward the backend.
	Status int
	// Message is the backend's own failure text, or a generic phrase when
	// the backend sent nothing usable.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// Client is the HTTP JSON-RPC implementation of Executor.
type Client struct {
	client *http.Client
	signer *Signer
	logger zerolog.Logger
}

// NewClient builds a client with tuned connection pooling. The optional
// HMAC signer engages only when both key and secret are configured.
func NewClient(cfg config.Config, logger zerolog.Logger) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, // nolint:gosec -- opt-in for development scenarios
		},
	}

	c := &Client{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "upstream").Logger(),
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		c.signer = NewSigner(cfg.APIKey, cfg.APISecret)
	}
	return c
}

// Execute posts one JSON-RPC call to the backend and returns its result
// payload. A non-2xx status or a JSON-RPC error object both surface as
// *Error.
func (c *Client) Execute(ctx context.Context, identity *auth.Identity, target routing.Target, method string, params json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(wire.Frame{
		JSONRPC: wire.Version,
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode upstream call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+identity.UpstreamToken())

	if c.signer != nil {
		if err := c.signer.AttachSignature(req, body); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &Error{Status: http.StatusGatewayTimeout, Message: "upstream call timed out"}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &Error{Status: http.StatusGatewayTimeout, Message: "upstream call timed out"}
		}
		return nil, &Error{Status: http.StatusBadGateway, Message: "upstream unreachable"}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("close upstream response body failed")
		}
	}()

	const maxBody = 8 * 1024 * 1024
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: "upstream response truncated"}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{Status: resp.StatusCode, Message: upstreamMessage(payload, resp.StatusCode)}
	}

	var rpc wire.Response
	if err := json.Unmarshal(payload, &rpc); err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: "upstream returned malformed response"}
	}
	if rpc.Error != nil {
		return nil, &Error{Status: resp.StatusCode, Message: rpc.Error.Message}
	}

	return rpc.Result, nil
}

// Ping issues a bounded liveness probe against the backend base URL.
func (c *Client) Ping(ctx context.Context, identity *auth.Identity, target routing.Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		return fmt.Errorf("build warm-up request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+identity.UpstreamToken())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("warm-up round-trip: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close warm-up response body failed")
	}
	return nil
}

// upstreamMessage extracts a caller-safe failure phrase from an error body.
func upstreamMessage(payload []byte, status int) string {
	var rpc wire.Response
	if err := json.Unmarshal(payload, &rpc); err == nil && rpc.Error != nil && rpc.Error.Message != "" {
		return rpc.Error.Message
	}
	return http.StatusText(status)
}
