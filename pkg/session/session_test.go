// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/config"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

const tokenHeader = "x-upstream-token"

func newTestRegistry(t *testing.T) (*Registry, *auth.Resolver) {
	t.Helper()
	hasher, err := auth.NewHasher([]byte("test-salt"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	resolver, err := auth.NewResolver(config.Config{
		AuthMode:          config.AuthModePassthrough,
		PassthroughHeader: tokenHeader,
	}, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return NewRegistry(hasher, zerolog.Nop()), resolver
}

func credential(t *testing.T, resolver *auth.Resolver, token string) *auth.Credential {
	t.Helper()
	h := http.Header{}
	h.Set(tokenHeader, token)
	cred, err := resolver.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cred
}

func testTarget(t *testing.T) routing.Target {
	t.Helper()
	u, err := url.Parse("https://upstream.example.com")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return routing.Target{Index: 0, URL: u}
}

func TestBindThenReverifySameCredential(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())
	target := testTarget(t)

	identity, err := sess.Authenticate(credential(t, resolver, "token-one"), func() routing.Target { return target })
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if sess.State() != StateBound {
		t.Fatalf("state = %q, want bound", sess.State())
	}

	// Resubmitting the original credential always succeeds.
	again, err := sess.Authenticate(credential(t, resolver, "token-one"), func() routing.Target { return target })
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if again != identity {
		t.Error("re-verification must return the bound identity")
	}

	// Any other credential yields a mismatch; the binding never drifts.
	if _, err := sess.Authenticate(credential(t, resolver, "token-two"), func() routing.Target { return target }); !errors.Is(err, auth.ErrMismatch) {
		t.Fatalf("different credential: err = %v, want ErrMismatch", err)
	}
	if sess.Identity() != identity {
		t.Error("bound identity changed after mismatch attempt")
	}
}

func TestReuseWithoutCredential(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())
	target := testTarget(t)

	// Nothing to reuse on a fresh session.
	if _, err := sess.Reuse(); !errors.Is(err, auth.ErrMissing) {
		t.Fatalf("unbound reuse: err = %v, want ErrMissing", err)
	}

	identity, err := sess.Authenticate(credential(t, resolver, "token-one"), func() routing.Target { return target })
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	reused, err := sess.Reuse()
	if err != nil {
		t.Fatalf("bound reuse: %v", err)
	}
	if reused != identity {
		t.Error("reuse must resolve to the identity bound at first request")
	}
}

func TestConcurrentFirstBindingConvergesToOneIdentity(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())
	target := testTarget(t)

	const attempts = 4
	creds := make([]*auth.Credential, attempts)
	for i := range creds {
		creds[i] = credential(t, resolver, fmt.Sprintf("token-%d", i))
	}

	var wg sync.WaitGroup
	results := make([]error, attempts)
	start := make(chan struct{})
	for i := range creds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, results[i] = sess.Authenticate(creds[i], func() routing.Target { return target })
		}()
	}
	close(start)
	wg.Wait()

	// Exactly one attempt commits; with all-distinct tokens every loser is
	// re-validated against the winner and fails as a mismatch rather than
	// silently succeeding with its own identity.
	var wins, mismatches int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, auth.ErrMismatch):
			mismatches++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if mismatches != attempts-1 {
		t.Fatalf("mismatches = %d, want %d", mismatches, attempts-1)
	}
	if sess.Identity() == nil {
		t.Fatal("session must converge to exactly one bound identity")
	}
}

func TestConcurrentBindSameTokenAllSucceed(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())
	target := testTarget(t)

	const attempts = 4
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		cred := credential(t, resolver, "shared-token")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = sess.Authenticate(cred, func() routing.Target { return target })
		}()
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Errorf("attempt %d: %v", i, err)
		}
	}
}

func TestTargetStickyAcrossRebinds(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())

	u1, _ := url.Parse("https://one.example.com")
	u2, _ := url.Parse("https://two.example.com")

	if _, err := sess.Authenticate(credential(t, resolver, "token"), func() routing.Target {
		return routing.Target{Index: 0, URL: u1}
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Later requests never re-evaluate selection, even with a selector
	// that would now pick a different entry.
	if _, err := sess.Authenticate(credential(t, resolver, "token"), func() routing.Target {
		return routing.Target{Index: 1, URL: u2}
	}); err != nil {
		t.Fatalf("re-verify: %v", err)
	}

	target, ok := sess.Target()
	if !ok {
		t.Fatal("bound session must have a target")
	}
	if target.URL.String() != "https://one.example.com" {
		t.Errorf("target drifted to %s", target.URL)
	}
}

func TestCloseCancelsContextAndRemovesSession(t *testing.T) {
	registry, _ := newTestRegistry(t)
	sess := registry.Create(context.Background())

	if registry.Len() != 1 {
		t.Fatalf("registry len = %d", registry.Len())
	}

	sess.Close()
	sess.Close() // idempotent

	select {
	case <-sess.Context().Done():
	default:
		t.Fatal("close must cancel the session context synchronously")
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %q, want closed", sess.State())
	}
	if registry.Len() != 0 {
		t.Errorf("registry len after close = %d", registry.Len())
	}
	if _, ok := registry.Get(sess.ID()); ok {
		t.Error("closed session still resolvable")
	}
}

func TestClosedSessionRejectsAuthentication(t *testing.T) {
	registry, resolver := newTestRegistry(t)
	sess := registry.Create(context.Background())
	sess.Close()

	if _, err := sess.Authenticate(credential(t, resolver, "token"), func() routing.Target { return testTarget(t) }); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, err := sess.Reuse(); !errors.Is(err, ErrClosed) {
		t.Fatalf("reuse err = %v, want ErrClosed", err)
	}
}

// stubChannel records closure for attach/close interleaving checks.
type stubChannel struct {
	closed atomic.Bool
}

func (c *stubChannel) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *stubChannel) WriteFrame(*wire.Response) error { return nil }

func (c *stubChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func TestAttachChannelConcurrentWithClose(t *testing.T) {
	registry, _ := newTestRegistry(t)
	sess := registry.Create(context.Background())
	ch := &stubChannel{}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		sess.AttachChannel(ch)
	}()
	go func() {
		defer wg.Done()
		_ = sess.Channel()
	}()
	go func() {
		defer wg.Done()
		sess.Close()
	}()
	wg.Wait()

	// However attach and close interleave, a closed session never holds
	// an open channel.
	if !ch.closed.Load() {
		t.Error("attached channel left open after session close")
	}
}

func TestCloseAllDrainsRegistry(t *testing.T) {
	registry, _ := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		registry.Create(context.Background())
	}

	registry.CloseAll()
	if registry.Len() != 0 {
		t.Errorf("registry len after CloseAll = %d", registry.Len())
	}
}
