// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/kdf"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/storage"
)

const (
	ikmKeyPrefix      = "kek:ikm:"
	dekKeyPrefix      = "dek:encrypted:v"
	groupDEKKeyPrefix = "group:dek:"

	kekDerivationInfo = "KEK derivation:"
	fieldKeyInfo      = "field:"
)

// PKIProvider is a Provider backed by persistent initial key material. The
// KEK is derived from IKM stored hex-encoded in the byte store; DEK versions
// are lazily materialized by unwrapping their KEK-wrapped envelopes, or
// generated when no wrapped envelope exists yet. Group DEKs follow the same
// path addressed by group name.
//
// The KEK itself is never written to the store in cleartext and is never
// returned through GetKey.
type PKIProvider struct {
	store     storage.ByteStore
	serviceID string
	log       *logger.Logger

	kek     []byte
	derived *kdf.Cache

	mu             sync.Mutex
	currentVersion uint32
	dekCache       map[uint32][]byte
	groupVersions  map[string]uint32
	groupCache     map[string][]byte // "name:version" -> raw key
	imported       map[string][]byte // explicitly imported keys (e.g. LEKs)
	createdAt      time.Time
}

// NewPKIProvider derives the KEK (generating and persisting IKM on first
// use) and materializes the current DEK.
func NewPKIProvider(store storage.ByteStore, serviceID string, derived *kdf.Cache, log *logger.Logger) (*PKIProvider, error) {
	if derived == nil {
		derived = kdf.NewCache(kdf.DefaultCacheCapacity, kdf.DefaultCacheTTL)
	}
	p := &PKIProvider{
		store:         store,
		serviceID:     serviceID,
		log:           log.GetChildLogger("pki-provider"),
		derived:       derived,
		dekCache:      make(map[uint32][]byte),
		groupVersions: make(map[string]uint32),
		groupCache:    make(map[string][]byte),
		imported:      make(map[string][]byte),
		createdAt:     time.Now(),
	}

	kek, err := p.deriveKEK()
	if err != nil {
		return nil, err
	}
	p.kek = kek

	p.currentVersion = p.scanMaxDEKVersion()
	if p.currentVersion == 0 {
		p.currentVersion = 1
	}
	if _, err := p.loadOrCreateDEKLocked(p.currentVersion); err != nil {
		return nil, err
	}
	return p, nil
}

// deriveKEK loads (or generates and persists) the IKM and derives the KEK
// via HKDF. The IKM is stored hex-encoded so it survives restarts; it is
// never rotated in place — rotation is a full re-wrap.
func (p *PKIProvider) deriveKEK() ([]byte, error) {
	ikmKey := ikmKeyPrefix + p.serviceID
	raw, ok, err := p.store.Get(ikmKey)
	if err != nil {
		return nil, fmt.Errorf("load IKM: %w", err)
	}

	var ikm []byte
	if ok {
		ikm, err = hex.DecodeString(string(raw))
		if err != nil || len(ikm) != 32 {
			return nil, fmt.Errorf("persisted IKM is malformed (%d bytes)", len(raw))
		}
	} else {
		ikm = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, ikm); err != nil {
			return nil, fmt.Errorf("generate IKM: %w", err)
		}
		if err := p.store.Put(ikmKey, []byte(hex.EncodeToString(ikm))); err != nil {
			return nil, fmt.Errorf("persist IKM: %w", err)
		}
		p.log.Info().Str("service_id", p.serviceID).Msg("generated new IKM")
	}

	return kdf.Derive(ikm, nil, kekDerivationInfo+p.serviceID, 32)
}

func (p *PKIProvider) scanMaxDEKVersion() uint32 {
	var max uint32
	_ = p.store.ScanPrefix(dekKeyPrefix, func(key string, _ []byte) bool {
		v, err := strconv.ParseUint(key[len(dekKeyPrefix):], 10, 32)
		if err == nil && uint32(v) > max {
			max = uint32(v)
		}
		return true
	})
	return max
}

// loadOrCreateDEKLocked returns the raw DEK for version, unwrapping the
// persisted envelope. Only the current version may be generated fresh when
// no wrapped envelope exists; an absent older version was deleted and stays
// gone. Caller holds p.mu (or is the constructor).
func (p *PKIProvider) loadOrCreateDEKLocked(version uint32) ([]byte, error) {
	if dek, ok := p.dekCache[version]; ok {
		return dek, nil
	}

	storeKey := dekKeyPrefix + strconv.FormatUint(uint64(version), 10)
	if version != p.currentVersion {
		if _, ok, err := p.store.Get(storeKey); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: dek v%d", ErrKeyNotFound, version)
		}
	}

	dek, err := p.loadOrCreateWrapped(storeKey)
	if err != nil {
		return nil, fmt.Errorf("DEK v%d: %w", version, err)
	}
	p.dekCache[version] = dek
	return dek, nil
}

// loadOrCreateWrapped reads a KEK-wrapped envelope from storeKey and unwraps
// it, or generates a fresh 256-bit key, wraps it, and persists the envelope.
func (p *PKIProvider) loadOrCreateWrapped(storeKey string) ([]byte, error) {
	raw, ok, err := p.store.Get(storeKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var env crypto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("parse wrapped key envelope: %w", err)
		}
		return p.gcmOpen(env)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	env, err := p.gcmSeal(key)
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(storeKey, blob); err != nil {
		return nil, fmt.Errorf("persist wrapped key: %w", err)
	}
	return key, nil
}

// gcmSeal wraps plaintext key material with the KEK.
func (p *PKIProvider) gcmSeal(plaintext []byte) (crypto.Envelope, error) {
	block, err := aes.NewCipher(p.kek)
	if err != nil {
		return crypto.Envelope{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return crypto.Envelope{}, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return crypto.Envelope{}, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	return crypto.Envelope{
		KeyID:      "kek:" + p.serviceID,
		KeyVersion: 1,
		IV:         iv,
		Ciphertext: sealed[:len(sealed)-crypto.TagSize],
		Tag:        sealed[len(sealed)-crypto.TagSize:],
	}, nil
}

// gcmOpen unwraps an envelope with the KEK. A tag mismatch almost always
// means the IKM changed underneath the wrapped material.
func (p *PKIProvider) gcmOpen(env crypto.Envelope) ([]byte, error) {
	block, err := aes.NewCipher(p.kek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, env.Ciphertext...), env.Tag...)
	key, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return key, nil
}

// GetKey implements [Provider].
//
// Addressing:
//   - "dek" resolves to the current DEK version;
//   - "group:<name>" resolves to the group DEK for <name>;
//   - anything else is treated as a field context and derives
//     HKDF(DEK_current, info="field:"+key_id).
//
// The raw KEK is never returned.
func (p *PKIProvider) GetKey(keyID string) ([]byte, error) {
	return p.GetKeyVersion(keyID, 0)
}

// GetKeyVersion implements [Provider].
func (p *PKIProvider) GetKeyVersion(keyID string, version uint32) ([]byte, error) {
	if strings.HasPrefix(keyID, "kek:") {
		return nil, fmt.Errorf("%w: KEK material is not retrievable", ErrKeyOperationDenied)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case keyID == "dek":
		v := version
		if v == 0 {
			v = p.currentVersion
		}
		dek, err := p.loadOrCreateDEKLocked(v)
		if err != nil {
			return nil, err
		}
		return cloneBytes(dek), nil

	case strings.HasPrefix(keyID, "group:"):
		name := strings.TrimPrefix(keyID, "group:")
		key, err := p.groupDEKLocked(name, version)
		if err != nil {
			return nil, err
		}
		return cloneBytes(key), nil

	default:
		if key, ok := p.imported[keyID]; ok {
			return cloneBytes(key), nil
		}
		v := version
		if v == 0 {
			v = p.currentVersion
		}
		dek, err := p.loadOrCreateDEKLocked(v)
		if err != nil {
			return nil, err
		}
		return p.derived.DeriveCached(dek, nil, fieldKeyInfo+keyID, 32)
	}
}

// GroupKey returns the group DEK for name at the current group version,
// materializing it on first use.
func (p *PKIProvider) GroupKey(name string) ([]byte, error) {
	return p.GetKey("group:" + name)
}

func (p *PKIProvider) groupDEKLocked(name string, version uint32) ([]byte, error) {
	if version == 0 {
		version = p.groupVersions[name]
		if version == 0 {
			version = p.scanMaxGroupVersion(name)
			if version == 0 {
				version = 1
			}
			p.groupVersions[name] = version
		}
	}

	cacheKey := name + ":" + strconv.FormatUint(uint64(version), 10)
	if key, ok := p.groupCache[cacheKey]; ok {
		return key, nil
	}

	storeKey := groupDEKKeyPrefix + name + ":v" + strconv.FormatUint(uint64(version), 10)
	key, err := p.loadOrCreateWrapped(storeKey)
	if err != nil {
		return nil, fmt.Errorf("group DEK %s v%d: %w", name, version, err)
	}
	p.groupCache[cacheKey] = key
	return key, nil
}

func (p *PKIProvider) scanMaxGroupVersion(name string) uint32 {
	prefix := groupDEKKeyPrefix + name + ":v"
	var max uint32
	_ = p.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
		v, err := strconv.ParseUint(key[len(prefix):], 10, 32)
		if err == nil && uint32(v) > max {
			max = uint32(v)
		}
		return true
	})
	return max
}

// CurrentVersion implements [Provider].
func (p *PKIProvider) CurrentVersion(keyID string) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasPrefix(keyID, "group:") {
		name := strings.TrimPrefix(keyID, "group:")
		if v := p.groupVersions[name]; v > 0 {
			return v, nil
		}
		if v := p.scanMaxGroupVersion(name); v > 0 {
			return v, nil
		}
		return 1, nil
	}
	// DEK-derived material is always stamped with the DEK version.
	return p.currentVersion, nil
}

// RotateKey implements [Provider]. Rotating "dek" bumps the version, wraps a
// fresh DEK, and invalidates derived field keys (they re-derive from the new
// DEK). Rotating "group:<name>" bumps that group's version.
func (p *PKIProvider) RotateKey(keyID string) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case keyID == "dek":
		p.currentVersion++
		if _, err := p.loadOrCreateDEKLocked(p.currentVersion); err != nil {
			p.currentVersion--
			return 0, err
		}
		p.derived.Purge()
		p.log.Info().Uint32("version", p.currentVersion).Msg("rotated DEK")
		return p.currentVersion, nil

	case strings.HasPrefix(keyID, "group:"):
		name := strings.TrimPrefix(keyID, "group:")
		current := p.groupVersions[name]
		if current == 0 {
			current = p.scanMaxGroupVersion(name)
		}
		next := current + 1
		if _, err := p.groupDEKLocked(name, next); err != nil {
			return 0, err
		}
		p.groupVersions[name] = next
		p.log.Info().Str("group", name).Uint32("version", next).Msg("rotated group DEK")
		return next, nil

	default:
		// Field keys derive from the DEK; nothing independent to rotate.
		return p.currentVersion, nil
	}
}

// ListKeys implements [Provider]. Reports the DEK versions present in the
// store plus known group DEKs.
func (p *PKIProvider) ListKeys() ([]Metadata, error) {
	p.mu.Lock()
	current := p.currentVersion
	p.mu.Unlock()

	var out []Metadata
	_ = p.store.ScanPrefix(dekKeyPrefix, func(key string, _ []byte) bool {
		v, err := strconv.ParseUint(key[len(dekKeyPrefix):], 10, 32)
		if err != nil {
			return true
		}
		status := StatusDeprecated
		if uint32(v) == current {
			status = StatusActive
		}
		out = append(out, Metadata{
			KeyID:     "dek",
			Version:   uint32(v),
			Algorithm: algorithmAESGCM,
			CreatedAt: p.createdAt,
			Status:    status,
		})
		return true
	})
	_ = p.store.ScanPrefix(groupDEKKeyPrefix, func(key string, _ []byte) bool {
		rest := key[len(groupDEKKeyPrefix):]
		i := strings.LastIndex(rest, ":v")
		if i < 0 {
			return true
		}
		v, err := strconv.ParseUint(rest[i+2:], 10, 32)
		if err != nil {
			return true
		}
		out = append(out, Metadata{
			KeyID:     "group:" + rest[:i],
			Version:   uint32(v),
			Algorithm: algorithmAESGCM,
			CreatedAt: p.createdAt,
			Status:    StatusActive,
		})
		return true
	})
	return out, nil
}

// KeyMetadata implements [Provider].
func (p *PKIProvider) KeyMetadata(keyID string, version uint32) (Metadata, error) {
	v := version
	if v == 0 {
		var err error
		v, err = p.CurrentVersion(keyID)
		if err != nil {
			return Metadata{}, err
		}
	}
	return Metadata{
		KeyID:     keyID,
		Version:   v,
		Algorithm: algorithmAESGCM,
		CreatedAt: p.createdAt,
		Status:    StatusActive,
	}, nil
}

// DeleteKey implements [Provider]. The current DEK version cannot be
// deleted. Deleting an old version removes its wrapped envelope; ciphertext
// stamped with that version becomes unreadable (check
// crypto.ReferencesRemain first).
func (p *PKIProvider) DeleteKey(keyID string, version uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if keyID != "dek" {
		return fmt.Errorf("%w: only DEK versions can be deleted", ErrKeyOperationDenied)
	}
	if version == 0 || version == p.currentVersion {
		return fmt.Errorf("%w: cannot delete ACTIVE DEK v%d", ErrKeyOperationDenied, p.currentVersion)
	}
	delete(p.dekCache, version)
	return p.store.Delete(dekKeyPrefix + strconv.FormatUint(uint64(version), 10))
}

// HasKey implements [Provider].
func (p *PKIProvider) HasKey(keyID string, version uint32) bool {
	switch {
	case keyID == "dek":
		if version == 0 {
			return true
		}
		_, ok, _ := p.store.Get(dekKeyPrefix + strconv.FormatUint(uint64(version), 10))
		return ok
	case strings.HasPrefix(keyID, "group:"):
		name := strings.TrimPrefix(keyID, "group:")
		if version == 0 {
			return p.scanMaxGroupVersion(name) > 0
		}
		_, ok, _ := p.store.Get(groupDEKKeyPrefix + name + ":v" + strconv.FormatUint(uint64(version), 10))
		return ok
	default:
		// Imported keys are tracked explicitly; field contexts derive on
		// demand from the DEK and always resolve.
		p.mu.Lock()
		defer p.mu.Unlock()
		_, ok := p.imported[keyID]
		return ok
	}
}

// CreateKeyFromBytes implements [Provider]. Group-key imports are wrapped
// with the KEK and persisted like generated DEKs; any other id is held in
// process memory for the importer's lifetime (the LEK manager persists its
// own wrapped copies).
func (p *PKIProvider) CreateKeyFromBytes(keyID string, key []byte, _ Metadata) (uint32, error) {
	if len(key) != 32 {
		return 0, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(key))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !strings.HasPrefix(keyID, "group:") {
		// Non-group imports (e.g. unwrapped LEKs) live in process memory;
		// their persistence is the importer's concern.
		p.imported[keyID] = cloneBytes(key)
		return 1, nil
	}

	name := strings.TrimPrefix(keyID, "group:")
	next := p.scanMaxGroupVersion(name) + 1

	env, err := p.gcmSeal(key)
	if err != nil {
		return 0, err
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	storeKey := groupDEKKeyPrefix + name + ":v" + strconv.FormatUint(uint64(next), 10)
	if err := p.store.Put(storeKey, blob); err != nil {
		return 0, fmt.Errorf("persist imported group key: %w", err)
	}
	p.groupVersions[name] = next
	p.groupCache[name+":"+strconv.FormatUint(uint64(next), 10)] = cloneBytes(key)
	return next, nil
}
