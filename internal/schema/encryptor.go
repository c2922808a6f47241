// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package schema

import (
	"fmt"
	"strings"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/kdf"
	"github.com/makr-code/themis/internal/keys"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/models"
)

// Encryptor applies a Policy to entities on their way into and out of the
// index engine. Confidential fields are replaced by the compact envelope
// form of their ciphertext; plaintext fields pass through untouched.
//
// Field keys are derived as HKDF(base, salt=context, info="field:"+name)
// where base is the DEK (per-user context, salt = user id) or the group DEK
// (per-group context, empty salt), through the shared derived-key cache.
type Encryptor struct {
	policy   *Policy
	provider keys.Provider
	cipher   *crypto.FieldCipher
	derived  *kdf.Cache
	log      *logger.Logger
}

// NewEncryptor wires a policy to its collaborators. policy may be nil, in
// which case every field stays plaintext.
func NewEncryptor(policy *Policy, provider keys.Provider, cipher *crypto.FieldCipher, derived *kdf.Cache, log *logger.Logger) *Encryptor {
	if derived == nil {
		derived = kdf.NewCache(kdf.DefaultCacheCapacity, kdf.DefaultCacheTTL)
	}
	return &Encryptor{
		policy:   policy,
		provider: provider,
		cipher:   cipher,
		derived:  derived,
		log:      log.GetChildLogger("schema-encryptor"),
	}
}

// fieldKey resolves the derivation base and salt for a rule and derives the
// 32-byte field key plus the version to stamp on envelopes.
func (e *Encryptor) fieldKey(rule FieldRule, field, userID string, version uint32) ([]byte, uint32, error) {
	baseID := "dek"
	salt := []byte(userID)
	if rule.Context == ContextGroup {
		baseID = "group:" + rule.Group
		salt = nil
	}

	var base []byte
	var err error
	if version == 0 {
		base, err = e.provider.GetKey(baseID)
		if err == nil {
			version, err = e.provider.CurrentVersion(baseID)
		}
	} else {
		base, err = e.provider.GetKeyVersion(baseID, version)
	}
	if err != nil {
		return nil, 0, err
	}

	key, err := e.derived.DeriveCached(base, salt, "field:"+field, crypto.KeySize)
	if err != nil {
		return nil, 0, err
	}
	return key, version, nil
}

// EncryptEntity rewrites e in place, replacing each field the policy marks
// confidential with the compact envelope of its canonical string form. A
// failing field is left plaintext with a warning; the write continues
// (partial-failure availability).
func (e *Encryptor) EncryptEntity(entityType string, ent *models.Entity, userID string) {
	if e.policy == nil {
		return
	}
	for _, name := range ent.FieldNames() {
		v, _ := ent.GetField(name)
		rule, ok := e.policy.ShouldEncrypt(entityType, name, v)
		if !ok {
			continue
		}

		plain, ok := v.Canonical()
		if !ok {
			e.log.Warn().Str("entity", ent.PrimaryKey()).Str("field", name).
				Msg("unsupported field type for encryption, skipping")
			continue
		}

		key, version, err := e.fieldKey(rule, name, userID, 0)
		if err != nil {
			e.log.Warn().Err(err).Str("entity", ent.PrimaryKey()).Str("field", name).
				Msg("field key derivation failed, keeping plaintext")
			continue
		}

		keyID := e.envelopeKeyID(rule, name)
		env, err := e.cipher.EncryptWithKey([]byte(plain), keyID, version, key)
		if err != nil {
			e.log.Warn().Err(err).Str("entity", ent.PrimaryKey()).Str("field", name).
				Msg("field encryption failed, keeping plaintext")
			continue
		}
		ent.SetField(name, models.String(env.Compact()))
	}
}

// DecryptEntity reverses EncryptEntity for fields the policy marks
// confidential, restoring the canonical string form. Fields that do not
// parse as envelopes are assumed to have been written plaintext (partial
// failure on write) and pass through.
func (e *Encryptor) DecryptEntity(entityType string, ent *models.Entity, userID string) error {
	if e.policy == nil {
		return nil
	}
	for _, name := range ent.FieldNames() {
		v, _ := ent.GetField(name)
		rule, ok := e.policy.Rule(entityType, name)
		if !ok || !rule.Encrypted {
			continue
		}
		s, isStr := v.AsString()
		if !isStr || strings.Count(s, ":") < 4 {
			continue
		}
		env, err := crypto.ParseCompact(s)
		if err != nil {
			continue // written plaintext after a field-level failure
		}
		if env.KeyID != e.envelopeKeyID(rule, name) {
			continue
		}

		key, _, err := e.fieldKey(rule, name, userID, env.KeyVersion)
		if err != nil {
			return fmt.Errorf("decrypt %s.%s: %w", ent.PrimaryKey(), name, err)
		}
		plain, err := e.cipher.DecryptWithKey(env, key)
		if err != nil {
			return fmt.Errorf("decrypt %s.%s: %w", ent.PrimaryKey(), name, err)
		}
		ent.SetField(name, models.String(string(plain)))
	}
	return nil
}

// envelopeKeyID stamps envelopes so reads can recognize the derivation
// context without guessing.
func (e *Encryptor) envelopeKeyID(rule FieldRule, field string) string {
	if rule.Context == ContextGroup {
		return "group:" + rule.Group + "/field:" + field
	}
	return "field:" + field
}
