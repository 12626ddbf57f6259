// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-core-stack/mcp-session-gateway/pkg/config"
)

// Credential is one request's resolved raw credential, before any session
// binding. The raw token stays unexported so it cannot leak through
// serialization; fingerprinting happens at bind time in the session layer.
type Credential struct {
	Provenance Provenance
	Scopes     []string

	token string
}

// Token exposes the raw upstream-facing token to the binding and upstream
// layers only.
func (c *Credential) Token() string {
	return c.token
}

// Resolver extracts and validates a caller credential from a single inbound
// request, independent of any session state.
type Resolver struct {
	mode              config.AuthMode
	staticToken       string
	passthroughHeader string
	grants            *GrantStore
}

// NewResolver constructs a resolver for the configured mode. grants must be
// non-nil in oauth-proxy mode and is ignored otherwise.
func NewResolver(cfg config.Config, grants *GrantStore) (*Resolver, error) {
	if cfg.AuthMode == config.AuthModeOAuthProxy && grants == nil {
		return nil, fmt.Errorf("oauth-proxy mode requires a grant store")
	}
	return &Resolver{
		mode:              cfg.AuthMode,
		staticToken:       cfg.StaticToken,
		passthroughHeader: cfg.PassthroughHeader,
		grants:            grants,
	}, nil
}

// Resolve produces the request's credential or fails with one of the Auth*
// sentinels. A nil error always carries a non-nil credential.
func (r *Resolver) Resolve(header http.Header) (*Credential, error) {
	switch r.mode {
	case config.AuthModeStatic:
		return &Credential{Provenance: ProvenanceStatic, token: r.staticToken}, nil
	case config.AuthModePassthrough:
		return r.resolvePassthrough(header)
	case config.AuthModeOAuthProxy:
		return r.resolveOAuthProxy(header)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", r.mode)
	}
}

// resolvePassthrough requires exactly one value of the designated header
// carrying the raw upstream token.
func (r *Resolver) resolvePassthrough(header http.Header) (*Credential, error) {
	values := header.Values(r.passthroughHeader)
	switch len(values) {
	case 0:
		return nil, missing(fmt.Sprintf("header %s not present", r.passthroughHeader))
	case 1:
		token := strings.TrimSpace(values[0])
		if token == "" {
			return nil, missing(fmt.Sprintf("header %s is empty", r.passthroughHeader))
		}
		return &Credential{Provenance: ProvenancePassthrough, token: token}, nil
	default:
		return nil, ambiguous(fmt.Sprintf("header %s supplied %d times", r.passthroughHeader, len(values)))
	}
}

// resolveOAuthProxy validates a proxy-issued bearer token and maps it to the
// real upstream token through the grant store.
func (r *Resolver) resolveOAuthProxy(header http.Header) (*Credential, error) {
	values := header.Values("Authorization")
	switch len(values) {
	case 0:
		return nil, missing("bearer token not present")
	case 1:
	default:
		return nil, ambiguous(fmt.Sprintf("authorization header supplied %d times", len(values)))
	}

	bearer, found := strings.CutPrefix(strings.TrimSpace(values[0]), "Bearer ")
	if !found {
		return nil, missing("authorization header is not a bearer token")
	}

	grant, err := r.grants.Resolve(bearer)
	if err != nil {
		return nil, err
	}

	return &Credential{
		Provenance: ProvenanceOAuthProxy,
		Scopes:     grant.Scopes,
		token:      grant.UpstreamToken,
	}, nil
}
