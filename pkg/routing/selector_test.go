// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package routing

import (
	"net/url"
	"testing"

	"github.com/rs/zerolog"
)

func parse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestSelectSingleUpstreamIgnoresHint(t *testing.T) {
	u1 := parse(t, "https://one.example.com")
	s := NewSelector([]*url.URL{u1}, true, zerolog.Nop())

	// Hints are ignored, not rejected.
	target := s.Select("https://other.example.com")
	if target.Index != 0 || target.URL != u1 {
		t.Fatalf("target = %d %s, want the single configured upstream", target.Index, target.URL)
	}
}

func TestSelectDynamicRoutingDisabled(t *testing.T) {
	u1 := parse(t, "https://one.example.com")
	u2 := parse(t, "https://two.example.com")
	s := NewSelector([]*url.URL{u1, u2}, false, zerolog.Nop())

	if target := s.Select(u2.String()); target.Index != 0 {
		t.Fatalf("disabled dynamic routing selected index %d, want 0", target.Index)
	}
}

func TestSelectExactHintMatch(t *testing.T) {
	u1 := parse(t, "https://one.example.com")
	u2 := parse(t, "https://two.example.com")
	s := NewSelector([]*url.URL{u1, u2}, true, zerolog.Nop())

	if target := s.Select("https://two.example.com"); target.Index != 1 {
		t.Fatalf("exact hint selected index %d, want 1", target.Index)
	}
	if target := s.Select(""); target.Index != 0 {
		t.Fatalf("empty hint selected index %d, want default 0", target.Index)
	}
}

func TestSelectUnmatchedHintFailsOpen(t *testing.T) {
	u1 := parse(t, "https://one.example.com")
	u2 := parse(t, "https://two.example.com")
	s := NewSelector([]*url.URL{u1, u2}, true, zerolog.Nop())

	// An unmatched hint silently falls back to the default entry. This
	// fail-open behavior is deliberate: a switch to rejecting here would
	// change the contract and must show up as a failure of this test.
	target := s.Select("https://rogue.example.com")
	if target.Index != 0 {
		t.Fatalf("unmatched hint selected index %d, want default 0", target.Index)
	}

	// Near-miss hints (same host, different form) are not fuzzy-matched.
	if target := s.Select("https://two.example.com/"); target.Index != 0 {
		t.Fatalf("near-miss hint selected index %d, want default 0", target.Index)
	}
}
