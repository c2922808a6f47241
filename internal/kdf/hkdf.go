// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package kdf wraps HKDF-SHA256 key derivation and a bounded, TTL'd
// memoization cache for derived keys.
package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Derive runs HKDF-SHA256 over ikm with the given salt and info string and
// returns length output bytes. An empty salt is passed through as nil, which
// HKDF treats as a zero-filled salt of hash length (RFC 5869 §2.2).
func Derive(ikm, salt []byte, info string, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("hkdf: empty input key material")
	}
	if length <= 0 {
		return nil, fmt.Errorf("hkdf: invalid output length %d", length)
	}
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// DeriveFromString is a convenience wrapper over Derive for string IKM with
// an empty salt.
func DeriveFromString(ikm, info string, length int) ([]byte, error) {
	return Derive([]byte(ikm), nil, info, length)
}
