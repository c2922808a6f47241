// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := NewMemoryStore()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("k", []byte("v")))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, s.Delete("k"))
	_, ok, _ = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStoreScanPrefixOrdered(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("idx:b", nil))
	require.NoError(t, s.Put("idx:a", nil))
	require.NoError(t, s.Put("idx:c", nil))
	require.NoError(t, s.Put("other:x", nil))

	var keys []string
	require.NoError(t, s.ScanPrefix("idx:", func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"idx:a", "idx:b", "idx:c"}, keys)
}

func TestMemoryStoreScanStopsOnFalse(t *testing.T) {
	s := NewMemoryStore()
	for _, k := range []string{"p:1", "p:2", "p:3"} {
		require.NoError(t, s.Put(k, nil))
	}

	var count int
	require.NoError(t, s.ScanPrefix("p:", func(string, []byte) bool {
		count++
		return count < 2
	}))
	assert.Equal(t, 2, count)
}

func TestMemoryStoreScanRangeHalfOpen(t *testing.T) {
	s := NewMemoryStore()
	for _, k := range []string{"r:1", "r:2", "r:3", "r:4"} {
		require.NoError(t, s.Put(k, nil))
	}

	var keys []string
	require.NoError(t, s.ScanRange("r:2", "r:4", func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"r:2", "r:3"}, keys)
}

func TestMemoryBatchAtomicity(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("keep", []byte("old")))

	b := s.NewWriteBatch()
	b.Put("a", []byte("1"))
	b.Put("keep", []byte("new"))
	b.Delete("never-existed")

	// Nothing visible before commit.
	_, ok, _ := s.Get("a")
	assert.False(t, ok)
	v, _, _ := s.Get("keep")
	assert.Equal(t, []byte("old"), v)

	require.NoError(t, b.Commit())
	v, _, _ = s.Get("a")
	assert.Equal(t, []byte("1"), v)
	v, _, _ = s.Get("keep")
	assert.Equal(t, []byte("new"), v)
}

func TestMemoryBatchRollbackDiscards(t *testing.T) {
	s := NewMemoryStore()
	b := s.NewWriteBatch()
	b.Put("a", []byte("1"))
	b.Rollback()
	require.NoError(t, b.Commit()) // empty after rollback

	_, ok, _ := s.Get("a")
	assert.False(t, ok)
}

func TestMemoryBatchDoubleCommit(t *testing.T) {
	s := NewMemoryStore()
	b := s.NewWriteBatch()
	b.Put("a", []byte("1"))
	require.NoError(t, b.Commit())
	assert.ErrorIs(t, b.Commit(), ErrBatchCommitted)
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	s := NewMemoryStore()
	in := []byte("abc")
	require.NoError(t, s.Put("k", in))
	in[0] = 'x'

	out, _, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), out)
	out[1] = 'y'

	again, _, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put("k", nil), ErrStoreClosed)
	_, _, err := s.Get("k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
