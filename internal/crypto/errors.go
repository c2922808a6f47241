// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package crypto

import (
	"errors"
	"fmt"
)

// Sentinel errors for the field-encryption layer. Callers should use
// [errors.Is] to match against these values.
var (
	// ErrEncryption is returned when cipher construction, IV generation, or
	// sealing fails. No partial blob is ever emitted alongside it.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption is returned on authentication-tag mismatch, malformed
	// envelopes, or bad IV/tag lengths. No partial plaintext is ever
	// returned alongside it.
	ErrDecryption = errors.New("decryption failed")

	// ErrMalformedEnvelope is returned when a compact or JSON envelope
	// cannot be parsed. It matches ErrDecryption via Unwrap so that callers
	// treating any undecryptable blob uniformly keep working.
	ErrMalformedEnvelope = fmt.Errorf("malformed envelope: %w", ErrDecryption)

	// ErrBadKeyLength is returned when a raw key is not 32 bytes.
	ErrBadKeyLength = errors.New("raw key must be 32 bytes")
)
