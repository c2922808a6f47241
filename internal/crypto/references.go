// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package crypto

import (
	"strings"

	"github.com/makr-code/themis/internal/storage"
	"github.com/makr-code/themis/models"
)

// ReferencesRemain scans the primary-record corpus for envelopes stamped
// with (keyID, version) and reports whether any live ciphertext still
// references that key version. Operators should call this before deleting a
// DEPRECATED key version: deletion does not cascade, and stranded ciphertext
// becomes unreadable.
//
// The scan walks every `rel:` value, deserializes the entity, and probes
// string fields for the compact envelope form. Undeserializable records are
// skipped; they cannot be proven to reference the key.
func ReferencesRemain(store storage.ByteStore, keyID string, version uint32) (bool, error) {
	found := false
	err := store.ScanPrefix("rel:", func(key string, value []byte) bool {
		pk := key[strings.LastIndexByte(key, ':')+1:]
		e, derr := models.Deserialize(pk, value)
		if derr != nil {
			return true
		}
		for _, name := range e.FieldNames() {
			v, _ := e.GetField(name)
			s, ok := v.AsString()
			if !ok || strings.Count(s, ":") < 4 {
				continue
			}
			env, perr := ParseCompact(s)
			if perr != nil {
				continue
			}
			if env.KeyID == keyID && env.KeyVersion == version {
				found = true
				return false
			}
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
