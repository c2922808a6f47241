// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(payload string) []byte {
	h := sha256.Sum256([]byte(payload))
	return h[:]
}

func TestLocalSignerSignVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s := NewLocalSignerFromKey(key, "serial-1")

	hash := testHash("batch contents")
	sig, err := s.SignHash(hash)
	require.NoError(t, err)

	assert.True(t, sig.OK)
	assert.Equal(t, "RSA-SHA256", sig.Algorithm)
	assert.Equal(t, "serial-1", sig.CertSerial)
	assert.NotEmpty(t, sig.SignatureID)
	assert.True(t, s.VerifyHash(hash, sig))

	// Any change to the hash or signature invalidates.
	assert.False(t, s.VerifyHash(testHash("other contents"), sig))
	bad := sig
	bad.SignatureB64 = base64.StdEncoding.EncodeToString([]byte("forged"))
	assert.False(t, s.VerifyHash(hash, bad))
	bad = sig
	bad.OK = false
	assert.False(t, s.VerifyHash(hash, bad))
}

func TestLocalSignerLoadsPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	s, err := NewLocalSigner(path, "serial-2")
	require.NoError(t, err)

	hash := testHash("x")
	sig, err := s.SignHash(hash)
	require.NoError(t, err)
	assert.True(t, s.VerifyHash(hash, sig))
}

func TestLocalSignerRejectsGarbagePEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))
	_, err := NewLocalSigner(path, "")
	assert.Error(t, err)
}

func TestHashedStubIndistinguishableInterface(t *testing.T) {
	var s Signer = NewHashedStub()

	hash := testHash("payload")
	sig, err := s.SignHash(hash)
	require.NoError(t, err)
	assert.True(t, sig.OK)
	assert.NotEmpty(t, sig.Algorithm)
	assert.NotEmpty(t, sig.CertSerial)
	assert.True(t, s.VerifyHash(hash, sig))

	// Tamper with either side: verification fails, like production.
	assert.False(t, s.VerifyHash(testHash("tampered"), sig))
	bad := sig
	bad.SignatureB64 = "AAAA"
	assert.False(t, s.VerifyHash(hash, bad))
}

func TestRestSigner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sign":
			var req restSignRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.NotEmpty(t, req.Input)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(restSignResponse{
				OK:           true,
				SignatureID:  "sig-remote-1",
				Algorithm:    "RSA-SHA256",
				SignatureB64: "cmVtb3RlLXNpZw==",
				CertSerial:   "remote-serial",
			})
		case "/verify":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(restVerifyResponse{Valid: true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	s := NewRestSigner(RestSignerConfig{Endpoint: server.URL})
	hash := testHash("payload")
	sig, err := s.SignHash(hash)
	require.NoError(t, err)
	assert.True(t, sig.OK)
	assert.Equal(t, "remote-serial", sig.CertSerial)
	assert.True(t, s.VerifyHash(hash, sig))
}

func TestRestSignerSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := NewRestSigner(RestSignerConfig{Endpoint: server.URL})
	_, err := s.SignHash(testHash("x"))
	assert.Error(t, err)
	assert.False(t, s.VerifyHash(testHash("x"), SignatureResult{OK: true}))
}
