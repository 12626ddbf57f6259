// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package auth resolves caller identities from inbound requests. One of
// three mutually exclusive modes is configured for the process: static,
// passthrough, or oauth-proxy. The resolver has no side effects beyond
// producing an Identity, and raw tokens never appear in logs or error text.
package auth

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Provenance tags where a resolved credential came from.
type Provenance string

const (
	ProvenanceStatic      Provenance = "static"
	ProvenancePassthrough Provenance = "passthrough"
	ProvenanceOAuthProxy  Provenance = "oauth-proxy"
)

// Identity is a resolved caller credential. The raw upstream token is held
// in an unexported field so it cannot leak through serialization; only the
// provenance, fingerprint and scopes are observable.
type Identity struct {
	Provenance  Provenance
	Fingerprint Fingerprint
	Scopes      []string

	upstreamToken string
}

// NewIdentity builds an identity around a raw upstream token.
func NewIdentity(provenance Provenance, fingerprint Fingerprint, token string, scopes []string) *Identity {
	return &Identity{
		Provenance:  provenance,
		Fingerprint: fingerprint,
		Scopes:      scopes,

		upstreamToken: token,
	}
}

// UpstreamToken exposes the raw token for the upstream client only.
func (id *Identity) UpstreamToken() string {
	return id.upstreamToken
}

// String renders a log-safe description of the identity.
func (id *Identity) String() string {
	return fmt.Sprintf("%s/%s", id.Provenance, id.Fingerprint.Abbrev())
}

// MarshalZerologObject lets zerolog log identities without touching the
// raw token.
func (id *Identity) MarshalZerologObject(e *zerolog.Event) {
	e.Str("provenance", string(id.Provenance)).Str("fingerprint", id.Fingerprint.Abbrev())
	if len(id.Scopes) > 0 {
		e.Strs("scopes", id.Scopes)
	}
}
