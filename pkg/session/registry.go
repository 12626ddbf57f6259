// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
)

// Registry owns every live session. The mutex guards only map membership;
// per-session binding state synchronizes through the session's own atomics,
// so unrelated sessions never contend.
type Registry struct {
	hasher *auth.Hasher
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry fingerprinting with hasher.
func NewRegistry(hasher *auth.Hasher, logger zerolog.Logger) *Registry {
	return &Registry{
		hasher:   hasher,
		logger:   logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Create registers a fresh unbound session whose context derives from
// parent. Closing the session removes it from the registry.
func (r *Registry) Create(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		hasher:    r.hasher,
		ctx:       ctx,
		cancel:    cancel,
		onClose:   r.remove,
	}
	s.logger = r.logger.With().Str("session_id", s.id).Logger()

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	s.logger.Debug().Msg("session created")
	return s
}

// Get looks up a live session by identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// Len reports the number of live sessions, for the health probe.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll shuts every live session down, used during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.RUnlock()

	for _, s := range open {
		s.Close()
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
}
