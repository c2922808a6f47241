// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makr-code/themis/internal/kdf"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/storage"
	"github.com/makr-code/themis/models"
)

func TestReferencesRemain(t *testing.T) {
	store := storage.NewMemoryStore()

	provider := newFakeProvider()
	provider.addKey("field:email", bytes.Repeat([]byte{0x42}, 32))
	cipher := NewFieldCipher(provider, kdf.NewCache(16, 0), logger.Nop())

	env, err := cipher.Encrypt([]byte("alice@example.com"), "field:email")
	require.NoError(t, err)

	e := models.NewEntity("u1")
	e.SetField("username", models.String("alice"))
	e.SetField("email", models.String(env.Compact()))
	blob, err := e.Serialize()
	require.NoError(t, err)
	require.NoError(t, store.Put("rel:users:u1", blob))

	// The live envelope references (field:email, v1).
	found, err := ReferencesRemain(store, "field:email", 1)
	require.NoError(t, err)
	assert.True(t, found)

	// No references to other versions or key ids.
	found, err = ReferencesRemain(store, "field:email", 2)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = ReferencesRemain(store, "field:phone", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReferencesRemainSkipsCorruptRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put("rel:users:bad", []byte("garbage")))

	found, err := ReferencesRemain(store, "field:email", 1)
	require.NoError(t, err)
	assert.False(t, found)
}
