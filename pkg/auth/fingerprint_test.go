// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"strings"
	"testing"
)

func TestFingerprintVerifyRoundTrip(t *testing.T) {
	hasher, err := NewHasher([]byte("process-salt"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	fp := hasher.Fingerprint("glpat-secret-token")

	ok, err := fp.Verify("glpat-secret-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("fingerprint must verify against the original token")
	}

	ok, err = fp.Verify("glpat-other-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("fingerprint must not verify against a different token")
	}
}

func TestFingerprintNeverContainsToken(t *testing.T) {
	hasher, err := NewHasher([]byte("process-salt"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	const token = "super-secret-value"
	fp := hasher.Fingerprint(token)

	if strings.Contains(string(fp), token) {
		t.Fatal("fingerprint embeds the raw token")
	}
	if strings.Contains(fp.Abbrev(), token) {
		t.Fatal("abbreviated fingerprint embeds the raw token")
	}
}

func TestFingerprintUsesArgon2id(t *testing.T) {
	hasher, err := NewHasher([]byte("process-salt"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	fp := hasher.Fingerprint("token")
	// The memory-hard primitive is a security property, not an
	// implementation detail; a fast general-purpose hash here is a
	// regression.
	if !strings.HasPrefix(string(fp), "$argon2id$") {
		t.Fatalf("fingerprint %q is not an argon2id PHC string", fp)
	}
}

func TestVerifyRejectsMalformedFingerprint(t *testing.T) {
	if _, err := Fingerprint("sha256:abcdef").Verify("token"); err == nil {
		t.Fatal("expected error for malformed fingerprint")
	}
}

func TestHasherRequiresSalt(t *testing.T) {
	if _, err := NewHasher(nil); err == nil {
		t.Fatal("expected error for empty salt")
	}
}
