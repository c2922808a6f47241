// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package kdf

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheCapacity bounds the number of memoized derivations.
const DefaultCacheCapacity = 1024

// DefaultCacheTTL is how long a memoized derivation stays valid.
const DefaultCacheTTL = time.Hour

// Cache memoizes HKDF outputs. The cache key is a structural hash over
// (ikm, salt, info, length), so changing any byte of any input yields a
// different cache key and rotation can never return stale material.
//
// Entries are evicted LRU on overflow and expire after the configured TTL.
// The cache is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[[32]byte, []byte]
}

// NewCache creates a cache with the given capacity and TTL. Non-positive
// values fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[[32]byte, []byte](capacity, nil, ttl)}
}

// DeriveCached returns the memoized derivation for (ikm, salt, info, length)
// or computes, stores, and returns it on a miss or after expiry.
func (c *Cache) DeriveCached(ikm, salt []byte, info string, length int) ([]byte, error) {
	key := cacheKey(ikm, salt, info, length)
	if v, ok := c.lru.Get(key); ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}

	derived, err := Derive(ikm, salt, info, length)
	if err != nil {
		return nil, err
	}
	stored := make([]byte, len(derived))
	copy(stored, derived)
	c.lru.Add(key, stored)
	return derived, nil
}

// Purge drops every memoized derivation. The PKI provider calls it after a
// DEK rotation so that field keys re-derive from the new DEK.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// cacheKey hashes the structural identity of a derivation. Fields are
// length-prefixed so that (ikm="ab", salt="c") and (ikm="a", salt="bc")
// cannot collide.
func cacheKey(ikm, salt []byte, info string, length int) [32]byte {
	h := sha256.New()
	var lenBuf [8]byte

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(ikm)))
	h.Write(lenBuf[:])
	h.Write(ikm)

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(salt)))
	h.Write(lenBuf[:])
	h.Write(salt)

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(info)))
	h.Write(lenBuf[:])
	h.Write([]byte(info))

	binary.BigEndian.PutUint64(lenBuf[:], uint64(length))
	h.Write(lenBuf[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}
