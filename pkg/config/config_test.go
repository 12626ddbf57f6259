// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MCP_UPSTREAM_URLS", "https://one.example.com/api, https://two.example.com/api")
	t.Setenv("MCP_FINGERPRINT_SALT", "unit-test-salt")
	t.Setenv("MCP_STATIC_TOKEN", "token-abc")
}

func TestLoadParsesUpstreamWhitelist(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Upstreams) != 2 {
		t.Fatalf("expected 2 upstreams, got %d", len(cfg.Upstreams))
	}
	if got := cfg.Upstreams[0].String(); got != "https://one.example.com/api" {
		t.Errorf("first upstream = %q", got)
	}
	if got := cfg.Upstreams[1].String(); got != "https://two.example.com/api" {
		t.Errorf("second upstream = %q", got)
	}
	if cfg.AuthMode != AuthModeStatic {
		t.Errorf("default auth mode = %q, want static", cfg.AuthMode)
	}
	if cfg.DynamicRouting {
		t.Error("dynamic routing should default to disabled")
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("request timeout = %v", cfg.RequestTimeout)
	}
	if cfg.RouteHintHeader != "x-mcp-upstream" {
		t.Errorf("route hint header = %q", cfg.RouteHintHeader)
	}
}

func TestLoadRejectsRelativeUpstream(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MCP_UPSTREAM_URLS", "not-a-url")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for relative upstream URL")
	}
}

func TestLoadRequiresStaticToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MCP_STATIC_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when static mode has no token")
	}
}

func TestLoadRequiresSaltForHTTP(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MCP_FINGERPRINT_SALT", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when http transport has no salt")
	}
}

func TestLoadRejectsStdioWithPassthrough(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MCP_TRANSPORT", "stdio")
	t.Setenv("MCP_AUTH_MODE", "passthrough")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for stdio transport with passthrough auth")
	}
}

func TestLoadRequiresOAuthSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MCP_AUTH_MODE", "oauth-proxy")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when oauth-proxy mode has no signing secret")
	}

	t.Setenv("MCP_OAUTH_SIGNING_SECRET", "signing-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OAuthTokenTTL != time.Hour {
		t.Errorf("oauth token ttl = %v, want 1h", cfg.OAuthTokenTTL)
	}
}
