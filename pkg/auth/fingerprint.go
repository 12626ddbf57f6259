// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for token fingerprints. The primitive is deliberately
// slow and memory-hard; swapping in a fast general-purpose hash would change
// the security property and must be treated as a regression.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Fingerprint is a one-way, salted digest of a secret token in PHC string
// form. It supports equality checks without retaining the secret and is
// never reversible to the raw token.
type Fingerprint string

// Hasher computes fingerprints with a process-wide salt.
type Hasher struct {
	salt []byte
}

// NewHasher constructs a Hasher over the configured salt material.
func NewHasher(salt []byte) (*Hasher, error) {
	if len(salt) == 0 {
		return nil, errors.New("fingerprint salt must not be empty")
	}
	return &Hasher{salt: salt}, nil
}

// Fingerprint derives the salted argon2id digest of the raw token.
func (h *Hasher) Fingerprint(rawToken string) Fingerprint {
	digest := argon2.IDKey([]byte(rawToken), h.salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return Fingerprint(fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(digest),
	))
}

// Verify recomputes the digest of rawToken with the parameters and salt
// embedded in the fingerprint and compares in constant time. Parsing the
// stored string rather than re-deriving from current process settings keeps
// verification correct across parameter changes.
func (f Fingerprint) Verify(rawToken string) (bool, error) {
	parts := strings.Split(string(f), "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed fingerprint")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("malformed fingerprint version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("malformed fingerprint parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed fingerprint salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed fingerprint digest: %w", err)
	}

	got := argon2.IDKey([]byte(rawToken), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Abbrev returns a short loggable prefix of the digest. Full fingerprints
// stay out of logs to keep offline guessing expensive.
func (f Fingerprint) Abbrev() string {
	if idx := strings.LastIndex(string(f), "$"); idx >= 0 && len(f) > idx+9 {
		return string(f[idx+1 : idx+9])
	}
	return ""
}
