// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/makr-code/themis/internal/kdf"
	"github.com/makr-code/themis/internal/logger"
)

// KeyProvider is the minimal key-retrieval contract the cipher needs. The
// full management interface lives in the keys package; any of its providers
// satisfies this one structurally.
type KeyProvider interface {
	// GetKey returns the latest ACTIVE key for keyID.
	GetKey(keyID string) ([]byte, error)

	// GetKeyVersion returns a specific version of a key. DEPRECATED
	// versions remain readable; DELETED versions are denied.
	GetKeyVersion(keyID string, version uint32) ([]byte, error)

	// CurrentVersion returns the version number of the latest ACTIVE key,
	// used to stamp fresh envelopes.
	CurrentVersion(keyID string) (uint32, error)
}

// FieldCipher encrypts and decrypts individual field values with AES-256-GCM
// using keys from a KeyProvider. It is stateless apart from the injected
// collaborators and safe for concurrent use.
type FieldCipher struct {
	provider KeyProvider
	derived  *kdf.Cache
	log      *logger.Logger
}

// NewFieldCipher constructs a FieldCipher. The derived-key cache backs the
// batch path's per-entity derivations; pass nil to derive uncached.
func NewFieldCipher(provider KeyProvider, derived *kdf.Cache, log *logger.Logger) *FieldCipher {
	if derived == nil {
		derived = kdf.NewCache(kdf.DefaultCacheCapacity, kdf.DefaultCacheTTL)
	}
	return &FieldCipher{provider: provider, derived: derived, log: log.GetChildLogger("field-cipher")}
}

// Encrypt seals plaintext under the latest ACTIVE version of keyID and
// returns an envelope stamped with the key id and version that produced it.
func (c *FieldCipher) Encrypt(plaintext []byte, keyID string) (Envelope, error) {
	key, err := c.provider.GetKey(keyID)
	if err != nil {
		return Envelope{}, err
	}
	version, err := c.provider.CurrentVersion(keyID)
	if err != nil {
		return Envelope{}, err
	}
	return c.EncryptWithKey(plaintext, keyID, version, key)
}

// EncryptWithKey seals plaintext with the given raw key, bypassing the
// provider lookup. Used by batched and derived-key paths. The key id and
// version parameters only stamp the envelope.
func (c *FieldCipher) EncryptWithKey(plaintext []byte, keyID string, version uint32, rawKey []byte) (Envelope, error) {
	if len(rawKey) != KeySize {
		return Envelope{}, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(rawKey))
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("%w: iv generation: %v", ErrEncryption, err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// gcm.Seal appends the 16-byte tag to the ciphertext; the envelope
	// stores them separately.
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return Envelope{
		KeyID:      keyID,
		KeyVersion: version,
		IV:         iv,
		Ciphertext: ct,
		Tag:        tag,
	}, nil
}

// Decrypt opens an envelope using the key version stamped on it. Any tag
// mismatch or malformed geometry yields ErrDecryption; partial plaintext is
// never returned.
func (c *FieldCipher) Decrypt(e Envelope) ([]byte, error) {
	key, err := c.provider.GetKeyVersion(e.KeyID, e.KeyVersion)
	if err != nil {
		return nil, err
	}
	return c.DecryptWithKey(e, key)
}

// DecryptWithKey opens an envelope with the given raw key, bypassing the
// provider lookup.
func (c *FieldCipher) DecryptWithKey(e Envelope, rawKey []byte) ([]byte, error) {
	if len(rawKey) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(rawKey))
	}
	if len(e.IV) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryption, IVSize, len(e.IV))
	}
	if len(e.Tag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes, got %d", ErrDecryption, TagSize, len(e.Tag))
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	sealed := make([]byte, 0, len(e.Ciphertext)+TagSize)
	sealed = append(sealed, e.Ciphertext...)
	sealed = append(sealed, e.Tag...)

	plaintext, err := gcm.Open(nil, e.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// BatchItem is one unit of work for EncryptEntityBatch.
type BatchItem struct {
	// EntitySalt scopes the derived key to one entity; typically the
	// primary key.
	EntitySalt string
	// Plaintext is the payload to seal.
	Plaintext []byte
}

// EncryptEntityBatch encrypts a batch of entity payloads, deriving one key
// per entity as HKDF(base, salt=entity_salt, info="entity:"+entity_salt)
// through the derived-key cache. The base key is fetched once; items fan out
// over a bounded worker pool and the result preserves input order.
//
// Failures are isolated per item: a failed slot holds a zero Envelope and
// the batch continues. Provider failure to produce the base key fails the
// whole batch.
func (c *FieldCipher) EncryptEntityBatch(items []BatchItem, keyID string) ([]Envelope, error) {
	baseKey, err := c.provider.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	version, err := c.provider.CurrentVersion(keyID)
	if err != nil {
		return nil, err
	}

	out := make([]Envelope, len(items))
	if len(items) == 0 {
		return out, nil
	}

	workers := runtime.NumCPU()
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				item := items[i]
				derived, derr := c.derived.DeriveCached(
					baseKey, []byte(item.EntitySalt), "entity:"+item.EntitySalt, KeySize)
				if derr != nil {
					c.log.Warn().Err(derr).Str("entity_salt", item.EntitySalt).Msg("batch item key derivation failed")
					continue
				}
				env, eerr := c.EncryptWithKey(item.Plaintext, keyID, version, derived)
				if eerr != nil {
					c.log.Warn().Err(eerr).Str("entity_salt", item.EntitySalt).Msg("batch item encryption failed")
					continue
				}
				out[i] = env
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out, nil
}

// DecryptEntityBatchItem opens one blob produced by EncryptEntityBatch,
// re-deriving the per-entity key from the stamped key id and version.
func (c *FieldCipher) DecryptEntityBatchItem(e Envelope, entitySalt string) ([]byte, error) {
	baseKey, err := c.provider.GetKeyVersion(e.KeyID, e.KeyVersion)
	if err != nil {
		return nil, err
	}
	derived, err := c.derived.DeriveCached(baseKey, []byte(entitySalt), "entity:"+entitySalt, KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return c.DecryptWithKey(e, derived)
}
