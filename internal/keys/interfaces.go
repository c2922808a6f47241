// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package keys implements the hierarchical key management service: a
// polymorphic provider contract with in-memory, PKI-backed, and external-KMS
// implementations, versioned rotation, and the KEK → DEK → derived-key
// hierarchy.
//
// # Key hierarchy
//
//  1. KEK (key-encryption key) — derived via HKDF-SHA256 from long-lived
//     initial key material persisted hex-encoded in the byte store. Never
//     written to the store in cleartext and never returned through GetKey.
//
//  2. DEK (data-encryption key) — a random 256-bit key, versioned. Each
//     version is stored KEK-wrapped as an envelope blob; old versions remain
//     readable until explicitly retired.
//
//  3. Derived field keys — HKDF(DEK_v, salt=context, info="field:"+name),
//     memoized in a bounded TTL cache.
//
// Group DEKs share the DEK shape but are addressed by group name, enabling
// multi-party access without per-user re-encryption.
package keys

import "time"

// Status is the lifecycle state of one key version.
type Status string

const (
	// StatusActive keys are usable for new encryption and for decryption.
	StatusActive Status = "ACTIVE"
	// StatusRotating marks a version mid-rotation (dual-write window).
	StatusRotating Status = "ROTATING"
	// StatusDeprecated keys decrypt existing data but never encrypt new data.
	StatusDeprecated Status = "DEPRECATED"
	// StatusDeleted keys deny every operation.
	StatusDeleted Status = "DELETED"
)

// Metadata describes one key version.
type Metadata struct {
	KeyID     string    `json:"key_id"`
	Version   uint32    `json:"version"`
	Algorithm string    `json:"algorithm"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`
}

// Provider is the key-management contract. All implementations must be safe
// under concurrent invocation.
type Provider interface {
	// GetKey returns the latest ACTIVE 32-byte key for keyID. Fails with
	// ErrKeyNotFound if the key does not exist and ErrKeyOperationDenied if
	// no usable version remains.
	GetKey(keyID string) ([]byte, error)

	// GetKeyVersion returns a specific key version. DEPRECATED versions
	// remain readable for decrypting old data; DELETED versions fail with
	// ErrKeyOperationDenied; absent versions with ErrKeyNotFound.
	GetKeyVersion(keyID string, version uint32) ([]byte, error)

	// CurrentVersion returns the version number of the latest ACTIVE key.
	CurrentVersion(keyID string) (uint32, error)

	// RotateKey creates a new ACTIVE version and transitions previous
	// ACTIVE versions to DEPRECATED. Version numbers are monotone: they
	// never decrease and are never reused. Returns the new version.
	RotateKey(keyID string) (uint32, error)

	// ListKeys returns metadata for every key version the provider knows.
	ListKeys() ([]Metadata, error)

	// KeyMetadata returns metadata for one key. version 0 selects the
	// latest ACTIVE version.
	KeyMetadata(keyID string, version uint32) (Metadata, error)

	// DeleteKey retires a key version permanently. Only permitted when the
	// version is not ACTIVE. Deletion does not verify that no ciphertext
	// still references the version; see crypto.ReferencesRemain.
	DeleteKey(keyID string, version uint32) error

	// HasKey reports whether the key (version 0: any version) exists.
	HasKey(keyID string, version uint32) bool

	// CreateKeyFromBytes imports raw key material as a new version of
	// keyID. The material must be exactly 32 bytes. Returns the version.
	CreateKeyFromBytes(keyID string, key []byte, meta Metadata) (uint32, error)
}
