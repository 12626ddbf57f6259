// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel auth failures. All resolve at the gateway boundary before any
// upstream call is attempted, and none of their messages ever carry a raw
// token.
var (
	// ErrMissing indicates no usable credential was presented.
	ErrMissing = errors.New("auth: credential missing")
	// ErrAmbiguous indicates a credential was supplied more than once, or
	// in a mode that forbids it.
	ErrAmbiguous = errors.New("auth: credential ambiguous")
	// ErrMismatch indicates a presented credential differs from the one
	// bound to the session.
	ErrMismatch = errors.New("auth: credential does not match session binding")
	// ErrExpired indicates a proxy-issued token or its grant has expired.
	ErrExpired = errors.New("auth: credential expired")
)

// Error wraps a sentinel with a human-readable reason suitable for a
// 401-equivalent response body.
type Error struct {
	Kind   error
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

// Unwrap exposes the sentinel for errors.Is checks.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Status maps every auth failure class to its HTTP status.
func (e *Error) Status() int {
	return http.StatusUnauthorized
}

func missing(reason string) error   { return &Error{Kind: ErrMissing, Reason: reason} }
func ambiguous(reason string) error { return &Error{Kind: ErrAmbiguous, Reason: reason} }
func expired(reason string) error   { return &Error{Kind: ErrExpired, Reason: reason} }
