// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package keys

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makr-code/themis/internal/logger"
)

type kmsFixture struct {
	provider *KMSProvider
	server   *httptest.Server
	reads    atomic.Int64
	fail5xx  atomic.Int64 // remaining forced 500s on reads
}

func newKMSFixture(t *testing.T) *kmsFixture {
	t.Helper()
	f := &kmsFixture{}

	keyB64 := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 32))
	mux := http.NewServeMux()
	mux.HandleFunc("/secret/data/keys/alpha", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.reads.Add(1)
			if f.fail5xx.Load() > 0 {
				f.fail5xx.Add(-1)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			version := r.URL.Query().Get("version")
			if version == "" {
				version = "2"
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"data": map[string]any{
						"key":       keyB64,
						"algorithm": "AES-256-GCM",
						"version":   mustAtoi(version),
						"status":    "ACTIVE",
					},
				},
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/secret/data/keys/denied", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/secret/data/keys/deleted", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]any{"key": keyB64, "version": 1, "status": "DELETED"},
			},
		})
	})
	mux.HandleFunc("/secret/metadata/keys", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "LIST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"keys": []string{"alpha"}},
		})
	})
	mux.HandleFunc("/transit/sign/signer", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"signature": "vault:v1:c2lnbmF0dXJl"},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.provider = NewKMSProvider(KMSConfig{
		Endpoint:   f.server.URL,
		Token:      "test-token",
		Mount:      "secret",
		RetryCount: 3,
		RetryWait:  time.Millisecond,
		CacheSize:  10,
		CacheTTL:   time.Minute,
	}, logger.Nop())
	return f
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestKMSProviderGetKey(t *testing.T) {
	f := newKMSFixture(t)

	key, err := f.provider.GetKey("alpha")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 32), key)

	v, err := f.provider.CurrentVersion("alpha")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)
}

func TestKMSProviderVersionCacheHit(t *testing.T) {
	f := newKMSFixture(t)

	_, err := f.provider.GetKeyVersion("alpha", 2)
	require.NoError(t, err)
	before := f.reads.Load()

	_, err = f.provider.GetKeyVersion("alpha", 2)
	require.NoError(t, err)
	assert.Equal(t, before, f.reads.Load(), "second versioned read must come from cache")
}

func TestKMSProviderErrorMapping(t *testing.T) {
	f := newKMSFixture(t)

	_, err := f.provider.GetKey("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = f.provider.GetKey("denied")
	assert.ErrorIs(t, err, ErrKeyOperationDenied)

	_, err = f.provider.GetKey("deleted")
	assert.ErrorIs(t, err, ErrKeyOperationDenied)
}

func TestKMSProviderRetriesTransient(t *testing.T) {
	f := newKMSFixture(t)
	f.fail5xx.Store(2) // two 500s, then success

	key, err := f.provider.GetKey("alpha")
	require.NoError(t, err, "transient 5xx must be retried")
	assert.Len(t, key, 32)
	assert.GreaterOrEqual(t, f.reads.Load(), int64(3))
}

func TestKMSProviderTransientExhaustion(t *testing.T) {
	f := newKMSFixture(t)
	f.fail5xx.Store(100)

	_, err := f.provider.GetKey("alpha")
	assert.ErrorIs(t, err, ErrTransientTransport)
}

func TestKMSProviderRotate(t *testing.T) {
	f := newKMSFixture(t)
	v, err := f.provider.RotateKey("alpha")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)
}

func TestKMSProviderList(t *testing.T) {
	f := newKMSFixture(t)
	list, err := f.provider.ListKeys()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alpha", list[0].KeyID)
	assert.Equal(t, StatusActive, list[0].Status)
}

func TestKMSProviderSignHash(t *testing.T) {
	f := newKMSFixture(t)
	sig, err := f.provider.SignHash("signer", []byte("hash"))
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmF0dXJl", sig, "vault:v1: prefix is stripped")
}

func TestKMSProviderCreateFromBytesLength(t *testing.T) {
	f := newKMSFixture(t)
	_, err := f.provider.CreateKeyFromBytes("alpha", []byte("short"), Metadata{})
	assert.ErrorIs(t, err, ErrBadKeyLength)
}
