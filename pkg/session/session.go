// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package session binds authenticated identities to long-lived logical
// connections and enforces that a session never drifts to a different
// principal mid-life. Binding state is committed with a single
// compare-and-swap so two racing first requests converge on exactly one
// identity; steady-state reuse is a lock-free pointer load.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/channel"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
)

// State of a session's binding lifecycle.
type State string

const (
	StateUnbound State = "unbound"
	StateBound   State = "bound"
	StateClosed  State = "closed"
)

// ErrClosed indicates the session's transport went away while work was
// pending. Callers must not attempt a response toward it.
var ErrClosed = errors.New("session: transport closed")

// binding is the atomically committed pair of identity and backend target.
// Committing both in one pointer swap keeps the bound identity and the
// sticky routing decision consistent under racing first requests.
type binding struct {
	identity *auth.Identity
	target   routing.Target
}

// Session correlates many requests over a stateful transport to one logical
// caller connection.
type Session struct {
	id        string
	createdAt time.Time
	logger    zerolog.Logger
	hasher    *auth.Hasher

	ctx    context.Context
	cancel context.CancelFunc

	binding atomic.Pointer[binding]
	closed  atomic.Bool

	// ch is the long-lived channel handle, nil for sessions that only ever
	// see single-shot exchanges. Attach can race channel reads and Close
	// from other request goroutines, so access goes through the pointer.
	ch atomic.Pointer[channel.Channel]

	bindOnce sync.Once
	onClose  func(*Session)
}

// ID returns the server-generated session identifier.
func (s *Session) ID() string {
	return s.id
}

// Context is cancelled exactly once when the session closes; every piece of
// work owned by the session must derive from it so closure cascades.
func (s *Session) Context() context.Context {
	return s.ctx
}

// AttachChannel hands the session its long-lived channel handle. A channel
// attached to a session that already closed is closed immediately, so a
// closed session never holds an open channel in any interleaving.
func (s *Session) AttachChannel(ch channel.Channel) {
	s.ch.Store(&ch)
	if s.closed.Load() {
		_ = ch.Close()
	}
}

// Channel returns the attached channel handle, nil if none.
func (s *Session) Channel() channel.Channel {
	if p := s.ch.Load(); p != nil {
		return *p
	}
	return nil
}

// AfterBind runs fn exactly once across the session's lifetime, and only
// while the session is bound. Used for establishment work such as the
// backend warm-up.
func (s *Session) AfterBind(fn func()) {
	if s.binding.Load() == nil || s.closed.Load() {
		return
	}
	s.bindOnce.Do(fn)
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	if s.closed.Load() {
		return StateClosed
	}
	if s.binding.Load() != nil {
		return StateBound
	}
	return StateUnbound
}

// Identity returns the bound identity, or nil while unbound.
func (s *Session) Identity() *auth.Identity {
	if b := s.binding.Load(); b != nil {
		return b.identity
	}
	return nil
}

// Target returns the sticky backend target. Valid only once bound.
func (s *Session) Target() (routing.Target, bool) {
	if b := s.binding.Load(); b != nil {
		return b.target, true
	}
	return routing.Target{}, false
}

// Authenticate runs the binding protocol for one request's credential.
//
// On a fresh session the credential's fingerprint is computed, the identity
// and the backend chosen by selectTarget are committed atomically, and the
// session becomes bound. When two first requests race, the first committer
// wins and the loser is re-verified against the committed fingerprint
// instead of silently succeeding with its own identity. On an already bound
// session the presented credential is verified against the stored
// fingerprint; a mismatch fails with auth.ErrMismatch.
func (s *Session) Authenticate(cred *auth.Credential, selectTarget func() routing.Target) (*auth.Identity, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if b := s.binding.Load(); b != nil {
		return s.verify(b, cred)
	}

	// Fingerprinting is deliberately slow; keep it outside any critical
	// section so unrelated sessions never wait on it.
	fingerprint := s.hasher.Fingerprint(cred.Token())
	identity := auth.NewIdentity(cred.Provenance, fingerprint, cred.Token(), cred.Scopes)
	candidate := &binding{identity: identity, target: selectTarget()}

	if s.binding.CompareAndSwap(nil, candidate) {
		s.logger.Info().
			Object("identity", identity).
			Str("backend", candidate.target.URL.String()).
			Msg("session bound")
		return identity, nil
	}

	// Lost the first-binding race: fall through to verification against
	// whatever the winner committed.
	return s.verify(s.binding.Load(), cred)
}

// Reuse returns the bound identity for a request that presented no
// credential. Unbound sessions cannot reuse anything.
func (s *Session) Reuse() (*auth.Identity, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if b := s.binding.Load(); b != nil {
		return b.identity, nil
	}
	return nil, &auth.Error{Kind: auth.ErrMissing, Reason: "session has no bound identity"}
}

func (s *Session) verify(b *binding, cred *auth.Credential) (*auth.Identity, error) {
	ok, err := b.identity.Fingerprint.Verify(cred.Token())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn().Object("identity", b.identity).Msg("credential mismatch against bound session")
		return nil, &auth.Error{Kind: auth.ErrMismatch, Reason: "credential differs from session binding"}
	}
	return b.identity, nil
}

// Close cancels the session's context, cascading to every in-flight call it
// owns, and removes it from the registry. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	if p := s.ch.Load(); p != nil {
		_ = (*p).Close()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Info().Dur("lifetime", time.Since(s.createdAt)).Msg("session closed")
}
