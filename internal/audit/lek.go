// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package audit

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/keys"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/storage"
)

const lekStorePrefix = "lek:encrypted:"

// LEKManager rotates the log-encryption key daily. For date D the key id is
// "lek_D"; the raw key is generated on first use, imported into the key
// provider, and persisted under "lek:encrypted:D" so historical dates stay
// decryptable after restarts. The persisted form is a field-cipher envelope
// under the provider key named at construction (default "dek"); the KEK does
// not wrap it directly.
type LEKManager struct {
	store    storage.ByteStore
	provider keys.Provider
	cipher   *crypto.FieldCipher
	wrapKey  string // key id the LEK blobs are wrapped with
	log      *logger.Logger

	mu    sync.Mutex
	cache map[string]string // date -> key id
}

// NewLEKManager wires the manager. wrapKeyID names the provider key used to
// wrap LEK blobs (typically "dek").
func NewLEKManager(store storage.ByteStore, provider keys.Provider, cipher *crypto.FieldCipher, wrapKeyID string, log *logger.Logger) *LEKManager {
	if wrapKeyID == "" {
		wrapKeyID = "dek"
	}
	return &LEKManager{
		store:    store,
		provider: provider,
		cipher:   cipher,
		wrapKey:  wrapKeyID,
		log:      log.GetChildLogger("lek-manager"),
		cache:    make(map[string]string),
	}
}

// CurrentDate returns today's date in the log-key format (YYYY-MM-DD).
func CurrentDate() string {
	return time.Now().Format("2006-01-02")
}

func lekKeyID(date string) string { return "lek_" + date }

// CurrentLEK returns the key id of today's log-encryption key, generating
// and persisting it on first use.
func (m *LEKManager) CurrentLEK() (string, error) {
	return m.LEKForDate(CurrentDate())
}

// LEKForDate returns the key id for an arbitrary date, materializing the key
// from its persisted wrapped form when needed.
func (m *LEKManager) LEKForDate(date string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keyID, ok := m.cache[date]; ok {
		return keyID, nil
	}
	if err := m.ensureLEKLocked(date); err != nil {
		return "", err
	}
	keyID := lekKeyID(date)
	m.cache[date] = keyID
	return keyID, nil
}

// Rotate discards today's key and generates a fresh one. Batches sealed
// under the old key become unreadable; rotation mid-day is for compromise
// response only.
func (m *LEKManager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	date := CurrentDate()
	delete(m.cache, date)
	if err := m.store.Delete(lekStorePrefix + date); err != nil {
		return fmt.Errorf("rotate LEK: drop persisted key: %w", err)
	}
	if err := m.ensureLEKLocked(date); err != nil {
		return err
	}
	m.cache[date] = lekKeyID(date)
	m.log.Info().Str("date", date).Msg("rotated log-encryption key")
	return nil
}

// ensureLEKLocked makes sure the provider holds the LEK for date, unwrapping
// the persisted blob or generating and persisting a fresh key. The persisted
// blob is authoritative: a provider-side import without a persisted
// counterpart (e.g. right after Rotate dropped it) is replaced.
func (m *LEKManager) ensureLEKLocked(date string) error {
	keyID := lekKeyID(date)

	storeKey := lekStorePrefix + date
	raw, ok, err := m.store.Get(storeKey)
	if err != nil {
		return fmt.Errorf("load LEK for %s: %w", date, err)
	}

	if ok {
		if m.provider.HasKey(keyID, 0) {
			return nil
		}
		var env crypto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("load LEK for %s: parse envelope: %w", date, err)
		}
		lek, err := m.cipher.Decrypt(env)
		if err != nil {
			return fmt.Errorf("load LEK for %s: %w", date, err)
		}
		if _, err := m.provider.CreateKeyFromBytes(keyID, lek, keys.Metadata{}); err != nil {
			return fmt.Errorf("load LEK for %s: import: %w", date, err)
		}
		return nil
	}

	lek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, lek); err != nil {
		return fmt.Errorf("generate LEK for %s: %w", date, err)
	}
	env, err := m.cipher.Encrypt(lek, m.wrapKey)
	if err != nil {
		return fmt.Errorf("wrap LEK for %s: %w", date, err)
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := m.store.Put(storeKey, blob); err != nil {
		return fmt.Errorf("persist LEK for %s: %w", date, err)
	}
	if _, err := m.provider.CreateKeyFromBytes(keyID, lek, keys.Metadata{}); err != nil {
		return fmt.Errorf("import LEK for %s: %w", date, err)
	}
	m.log.Info().Str("date", date).Msg("generated log-encryption key")
	return nil
}
