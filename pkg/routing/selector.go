// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package routing chooses one upstream base URL for a session at bind time
// from the configured ordered whitelist. Selection is sticky: the session
// layer commits the chosen target together with the bound identity and
// never re-evaluates later hints.
package routing

import (
	"net/url"

	"github.com/rs/zerolog"
)

// Target is one entry of the upstream whitelist.
type Target struct {
	// Index is the entry's position in the configured whitelist.
	Index int
	// URL is the upstream base URL.
	URL *url.URL
}

// Selector resolves per-request hints against the immutable whitelist.
type Selector struct {
	targets []Target
	keys    []string
	dynamic bool
	logger  zerolog.Logger
}

// NewSelector constructs a selector over the ordered whitelist. dynamic
// only matters with more than one entry.
func NewSelector(upstreams []*url.URL, dynamic bool, logger zerolog.Logger) *Selector {
	targets := make([]Target, len(upstreams))
	keys := make([]string, len(upstreams))
	for i, u := range upstreams {
		targets[i] = Target{Index: i, URL: u}
		keys[i] = u.String()
	}
	return &Selector{
		targets: targets,
		keys:    keys,
		dynamic: dynamic,
		logger:  logger.With().Str("component", "routing").Logger(),
	}
}

// Default returns the first whitelist entry.
func (s *Selector) Default() Target {
	return s.targets[0]
}

// Select resolves a hint to a whitelisted target. With a single configured
// upstream or dynamic routing disabled the hint is ignored, not rejected.
// A hint matching no entry silently falls back to the default; any
// authentication failure that results surfaces as the backend's own
// rejection rather than a routing error.
func (s *Selector) Select(hint string) Target {
	if len(s.targets) == 1 || !s.dynamic || hint == "" {
		return s.Default()
	}
	for i, key := range s.keys {
		if hint == key {
			return s.targets[i]
		}
	}
	s.logger.Debug().Str("hint", hint).Msg("hint matches no whitelisted upstream, using default")
	return s.Default()
}

// Targets exposes the whitelist for diagnostics.
func (s *Selector) Targets() []Target {
	return s.targets
}
