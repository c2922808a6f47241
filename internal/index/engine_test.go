// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/keys"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/schema"
	"github.com/makr-code/themis/internal/storage"
	"github.com/makr-code/themis/models"
)

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewEngine(store, logger.Nop()), store
}

func userEntity(pk, username string) *models.Entity {
	e := models.NewEntity(pk)
	e.SetField("id", models.String(pk))
	e.SetField("username", models.String(username))
	return e
}

// reservedPrefixes are every key family the engine may produce for a table.
var reservedPrefixes = []string{
	"rel:", "idx:", "ridx:", "sidx:", "gidx:", "ttlidx:",
	"ftidx:", "fttf:", "ftdlen:",
}

// entriesReferencing collects store keys in any reserved family whose
// trailing pk segment equals pk.
func entriesReferencing(t *testing.T, store *storage.MemoryStore, pk string) []string {
	t.Helper()
	var hits []string
	for _, prefix := range reservedPrefixes {
		require.NoError(t, store.ScanPrefix(prefix, func(key string, _ []byte) bool {
			if trailingPK(key) == pk {
				hits = append(hits, key)
			}
			return true
		}))
	}
	return hits
}

func TestPutAndLookupEquality(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", false))

	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))
	require.NoError(t, engine.Put("users", userEntity("u2", "bob")))

	pks, err := engine.ScanKeysEqual("users", "username", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pks)

	entities, err := engine.ScanEntitiesEqual("users", "username", "bob", "")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "u2", entities[0].PrimaryKey())
}

func TestPutRewritesOldIndexEntries(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", false))

	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))
	require.NoError(t, engine.Put("users", userEntity("u1", "renamed")))

	pks, err := engine.ScanKeysEqual("users", "username", "alice")
	require.NoError(t, err)
	assert.Empty(t, pks, "old value must leave the index")

	pks, err = engine.ScanKeysEqual("users", "username", "renamed")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pks)
}

func TestSeedUniqueViolationLeavesStoreBitIdentical(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", true))
	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))

	before := store.Snapshot()

	err := engine.Put("users", userEntity("u2", "alice"))
	require.ErrorIs(t, err, ErrUniqueViolation)

	assert.Equal(t, before, store.Snapshot(), "failed put must not change the store")
}

func TestUniqueAllowsRewriteOfSamePK(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", true))
	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))
	// Same pk, same value: not a conflict.
	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))
}

func TestSeedEraseRemovesEveryReservedPrefixEntry(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", false))
	require.NoError(t, engine.CreateRangeIndex("users", "created_at"))
	require.NoError(t, engine.CreateSparseIndex("users", "nickname", false))
	require.NoError(t, engine.CreateGeoIndex("users", "home"))
	require.NoError(t, engine.CreateTTLIndex("users", "session", 3600))
	require.NoError(t, engine.CreateFulltextIndex("users", "bio", FulltextConfig{}))

	e := userEntity("u1", "alice")
	e.SetField("created_at", models.String("2026"))
	e.SetField("nickname", models.String("ali"))
	e.SetField("home_lat", models.Double(48.1))
	e.SetField("home_lon", models.Double(11.5))
	e.SetField("session", models.String("s"))
	e.SetField("bio", models.String("storage systems engineer"))
	require.NoError(t, engine.Put("users", e))

	require.NotEmpty(t, entriesReferencing(t, store, "u1"))

	require.NoError(t, engine.Erase("users", "u1"))
	assert.Empty(t, entriesReferencing(t, store, "u1"),
		"no reserved prefix may keep an entry trailing in the erased pk")
}

func TestEraseWithCorruptPrimaryFallsBackToDefensiveScan(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "username", false))
	require.NoError(t, engine.Put("users", userEntity("u1", "alice")))

	// Corrupt the primary record; the old field values are unrecoverable.
	require.NoError(t, store.Put("rel:users:u1", []byte("garbage")))

	require.NoError(t, engine.Erase("users", "u1"))
	assert.Empty(t, entriesReferencing(t, store, "u1"))
}

func TestCompositeIndex(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateCompositeIndex("users", []string{"country", "city"}, false))

	e := models.NewEntity("u1")
	e.SetField("country", models.String("DE"))
	e.SetField("city", models.String("Munich"))
	require.NoError(t, engine.Put("users", e))

	// Missing one column: no entry staged.
	partial := models.NewEntity("u2")
	partial.SetField("country", models.String("DE"))
	require.NoError(t, engine.Put("users", partial))

	pks, err := engine.ScanKeysEqualComposite("users", []string{"country", "city"}, []string{"DE", "Munich"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pks)

	count, capped := engine.EstimateCountEqualComposite("users", []string{"country", "city"}, []string{"DE", "Munich"}, 10)
	assert.Equal(t, 1, count)
	assert.False(t, capped)
}

func TestCompositeUniqueViolation(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateCompositeIndex("users", []string{"tenant", "email"}, true))

	a := models.NewEntity("u1")
	a.SetField("tenant", models.String("t1"))
	a.SetField("email", models.String("a@x"))
	require.NoError(t, engine.Put("users", a))

	b := models.NewEntity("u2")
	b.SetField("tenant", models.String("t1"))
	b.SetField("email", models.String("a@x"))
	assert.ErrorIs(t, engine.Put("users", b), ErrUniqueViolation)
}

func TestSparseIndexSkipsNullAndEmpty(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, engine.CreateSparseIndex("users", "nickname", false))

	withNick := userEntity("u1", "alice")
	withNick.SetField("nickname", models.String("ali"))
	require.NoError(t, engine.Put("users", withNick))

	noNick := userEntity("u2", "bob")
	noNick.SetField("nickname", models.Null())
	require.NoError(t, engine.Put("users", noNick))

	empty := userEntity("u3", "carol")
	empty.SetField("nickname", models.String(""))
	require.NoError(t, engine.Put("users", empty))

	var sparseKeys []string
	require.NoError(t, store.ScanPrefix("sidx:users:nickname:", func(key string, _ []byte) bool {
		sparseKeys = append(sparseKeys, key)
		return true
	}))
	require.Len(t, sparseKeys, 1)
	assert.True(t, strings.HasSuffix(sparseKeys[0], ":u1"))
}

func TestValueEscapingSurvivesColonsAndPercent(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("kv", "val", false))

	e := models.NewEntity("k1")
	e.SetField("val", models.String("a:b%c:d"))
	require.NoError(t, engine.Put("kv", e))

	pks, err := engine.ScanKeysEqual("kv", "val", "a:b%c:d")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, pks)

	// A literal lookalike with different raw bytes must not match.
	pks, err = engine.ScanKeysEqual("kv", "val", "a:b%c:e")
	require.NoError(t, err)
	assert.Empty(t, pks)
}

func TestTableAndColumnNameValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.ErrorIs(t, engine.CreateIndex("bad:table", "col", false), ErrInvalidName)
	assert.ErrorIs(t, engine.CreateIndex("table", "bad:col", false), ErrInvalidName)
	assert.ErrorIs(t, engine.CreateIndex("", "col", false), ErrInvalidName)
	assert.ErrorIs(t, engine.CreateCompositeIndex("t", []string{"a"}, false), ErrInvalidName)
	assert.ErrorIs(t, engine.CreateCompositeIndex("t", []string{"a", "b+c"}, false), ErrInvalidName)
}

func TestScanWithoutIndexFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.ScanKeysEqual("users", "username", "alice")
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestEstimateCountCaps(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreateIndex("users", "role", false))
	for i := 0; i < 10; i++ {
		e := models.NewEntity(string(rune('a' + i)))
		e.SetField("role", models.String("admin"))
		require.NoError(t, engine.Put("users", e))
	}

	count, capped := engine.EstimateCountEqual("users", "role", "admin", 4)
	assert.Equal(t, 4, count)
	assert.True(t, capped)

	count, capped = engine.EstimateCountEqual("users", "role", "admin", 100)
	assert.Equal(t, 10, count)
	assert.False(t, capped)
}

func TestPutWithEncryptorKeepsIndexesOnPlaintext(t *testing.T) {
	store := storage.NewMemoryStore()
	provider, err := keys.NewPKIProvider(store, "engine-test", nil, logger.Nop())
	require.NoError(t, err)
	cipher := crypto.NewFieldCipher(provider, nil, logger.Nop())

	policy, err := schema.ParsePolicy([]byte(`{
		"entities": {"users": {"fields": {"email": {"encrypted": true}}}}
	}`))
	require.NoError(t, err)
	enc := schema.NewEncryptor(policy, provider, cipher, nil, logger.Nop())

	engine := NewEngine(store, logger.Nop()).WithEncryptor(enc)
	require.NoError(t, engine.CreateIndex("users", "username", false))

	e := userEntity("u1", "alice")
	e.SetField("email", models.String("alice@example.com"))
	require.NoError(t, engine.PutWithContext("users", e, "alice-id"))

	// The stored primary record does not contain the plaintext email.
	blob, ok, err := store.Get("rel:users:u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(blob), "alice@example.com")

	// Index lookups on plaintext columns still work.
	pks, err := engine.ScanKeysEqual("users", "username", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pks)

	// Reads restore the plaintext for the right user.
	got, ok, err := engine.GetEntity("users", "u1", "alice-id")
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := got.GetField("email")
	s, _ := v.AsString()
	assert.Equal(t, "alice@example.com", s)

	// Updates still clean up the old index entries through decryption.
	e2 := userEntity("u1", "renamed")
	e2.SetField("email", models.String("new@example.com"))
	require.NoError(t, engine.PutWithContext("users", e2, "alice-id"))
	pks, err = engine.ScanKeysEqual("users", "username", "alice")
	require.NoError(t, err)
	assert.Empty(t, pks)
}
