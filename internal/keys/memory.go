// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package keys

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"
)

const algorithmAESGCM = "AES-256-GCM"

type memoryEntry struct {
	key  []byte
	meta Metadata
}

// MemoryProvider is an in-memory Provider for tests and single-process
// deployments without a KEK hierarchy. Keys live only in process memory.
type MemoryProvider struct {
	mu   sync.Mutex
	keys map[string]map[uint32]*memoryEntry
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{keys: make(map[string]map[uint32]*memoryEntry)}
}

// CreateKey generates a fresh random key as version 1 (or the next version)
// of keyID and returns the version.
func (p *MemoryProvider) CreateKey(keyID string) (uint32, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, fmt.Errorf("generate key material: %w", err)
	}
	return p.CreateKeyFromBytes(keyID, key, Metadata{})
}

// CreateKeyFromBytes implements [Provider].
func (p *MemoryProvider) CreateKeyFromBytes(keyID string, key []byte, meta Metadata) (uint32, error) {
	if len(key) != 32 {
		return 0, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(key))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions := p.keys[keyID]
	if versions == nil {
		versions = make(map[uint32]*memoryEntry)
		p.keys[keyID] = versions
	}

	var next uint32 = 1
	for v := range versions {
		if v >= next {
			next = v + 1
		}
	}

	cp := make([]byte, len(key))
	copy(cp, key)

	entry := &memoryEntry{key: cp, meta: meta}
	entry.meta.KeyID = keyID
	entry.meta.Version = next
	if entry.meta.Algorithm == "" {
		entry.meta.Algorithm = algorithmAESGCM
	}
	if entry.meta.CreatedAt.IsZero() {
		entry.meta.CreatedAt = time.Now()
	}
	if entry.meta.Status == "" {
		entry.meta.Status = StatusActive
	}
	versions[next] = entry
	return next, nil
}

// GetKey implements [Provider].
func (p *MemoryProvider) GetKey(keyID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.latestActiveLocked(keyID)
	if err != nil {
		return nil, err
	}
	return cloneBytes(entry.key), nil
}

// GetKeyVersion implements [Provider].
func (p *MemoryProvider) GetKeyVersion(keyID string, version uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.keys[keyID][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrKeyNotFound, keyID, version)
	}
	if entry.meta.Status == StatusDeleted {
		return nil, fmt.Errorf("%w: %s v%d is deleted", ErrKeyOperationDenied, keyID, version)
	}
	return cloneBytes(entry.key), nil
}

// CurrentVersion implements [Provider].
func (p *MemoryProvider) CurrentVersion(keyID string) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.latestActiveLocked(keyID)
	if err != nil {
		return 0, err
	}
	return entry.meta.Version, nil
}

// RotateKey implements [Provider].
func (p *MemoryProvider) RotateKey(keyID string) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions := p.keys[keyID]
	if len(versions) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	var max uint32
	for v, entry := range versions {
		if v > max {
			max = v
		}
		if entry.meta.Status == StatusActive {
			entry.meta.Status = StatusDeprecated
		}
	}

	next := max + 1
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, fmt.Errorf("generate rotated key material: %w", err)
	}
	versions[next] = &memoryEntry{
		key: key,
		meta: Metadata{
			KeyID:     keyID,
			Version:   next,
			Algorithm: algorithmAESGCM,
			CreatedAt: time.Now(),
			Status:    StatusActive,
		},
	}
	return next, nil
}

// ListKeys implements [Provider].
func (p *MemoryProvider) ListKeys() ([]Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Metadata
	for _, versions := range p.keys {
		for _, entry := range versions {
			out = append(out, entry.meta)
		}
	}
	return out, nil
}

// KeyMetadata implements [Provider].
func (p *MemoryProvider) KeyMetadata(keyID string, version uint32) (Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if version == 0 {
		entry, err := p.latestActiveLocked(keyID)
		if err != nil {
			return Metadata{}, err
		}
		return entry.meta, nil
	}
	entry, ok := p.keys[keyID][version]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s v%d", ErrKeyNotFound, keyID, version)
	}
	return entry.meta, nil
}

// DeleteKey implements [Provider]. ACTIVE versions cannot be deleted; rotate
// first. Deletion does not verify that no ciphertext references the version.
func (p *MemoryProvider) DeleteKey(keyID string, version uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.keys[keyID][version]
	if !ok {
		return fmt.Errorf("%w: %s v%d", ErrKeyNotFound, keyID, version)
	}
	if entry.meta.Status == StatusActive {
		return fmt.Errorf("%w: cannot delete ACTIVE key %s v%d", ErrKeyOperationDenied, keyID, version)
	}
	entry.meta.Status = StatusDeleted
	entry.key = nil
	return nil
}

// HasKey implements [Provider].
func (p *MemoryProvider) HasKey(keyID string, version uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.keys[keyID]
	if !ok || len(versions) == 0 {
		return false
	}
	if version == 0 {
		return true
	}
	_, ok = versions[version]
	return ok
}

func (p *MemoryProvider) latestActiveLocked(keyID string) (*memoryEntry, error) {
	versions, ok := p.keys[keyID]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	var latest *memoryEntry
	for _, entry := range versions {
		if entry.meta.Status != StatusActive {
			continue
		}
		if latest == nil || entry.meta.Version > latest.meta.Version {
			latest = entry
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no ACTIVE version of %s", ErrKeyOperationDenied, keyID)
	}
	return latest, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func fillRandom(b []byte) error {
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("generate key material: %w", err)
	}
	return nil
}
