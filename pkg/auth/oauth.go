// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	grantStoreSize = 4096
	tokenIssuer    = "mcp-session-gateway"
)

// Grant maps a proxy-issued token to the real upstream access token. Entries
// live in an expirable cache bounded by the proxy token TTL, so a grant can
// never outlive the token that references it.
type Grant struct {
	UpstreamToken string
	Scopes        []string
	ExpiresAt     time.Time
}

// GrantStore issues proxy bearer tokens and resolves them back to grants.
// Proxy tokens are HS256 JWTs whose jti claim indexes the store; the JWT
// itself never embeds the upstream token.
type GrantStore struct {
	secret []byte
	ttl    time.Duration
	cache  *lru.LRU[string, Grant]

	// Now is injectable for tests.
	Now func() time.Time
}

// NewGrantStore constructs a store signing tokens with secret and expiring
// grants after ttl.
func NewGrantStore(secret string, ttl time.Duration) *GrantStore {
	return &GrantStore{
		secret: []byte(secret),
		ttl:    ttl,
		cache:  lru.NewLRU[string, Grant](grantStoreSize, nil, ttl),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue records a grant for the given upstream token and returns the signed
// proxy token the caller must present on subsequent requests.
func (s *GrantStore) Issue(upstreamToken string, scopes []string) (string, error) {
	now := s.Now()
	jti := uuid.NewString()

	claims := jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign proxy token: %w", err)
	}

	s.cache.Add(jti, Grant{
		UpstreamToken: upstreamToken,
		Scopes:        scopes,
		ExpiresAt:     now.Add(s.ttl),
	})

	return signed, nil
}

// Resolve validates a proxy token and returns its grant. Expired tokens and
// evicted grants surface as ErrExpired; anything else unverifiable surfaces
// as ErrMissing.
func (s *GrantStore) Resolve(proxyToken string) (Grant, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(proxyToken, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return s.Now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Grant{}, expired("proxy token expired")
		}
		return Grant{}, missing("proxy token not recognized")
	}

	grant, ok := s.cache.Get(claims.ID)
	if !ok {
		return Grant{}, expired("proxy token grant no longer held")
	}
	if s.Now().After(grant.ExpiresAt) {
		s.cache.Remove(claims.ID)
		return Grant{}, expired("proxy token grant expired")
	}

	return grant, nil
}

// Revoke drops a grant so its proxy token stops resolving immediately.
func (s *GrantStore) Revoke(proxyToken string) {
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(proxyToken, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return
	}
	s.cache.Remove(claims.ID)
}
