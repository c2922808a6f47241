// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package auth consumes the JWKS endpoint of an external identity provider
// and validates RS256 tokens against it. The validated subject is the user
// identity handed to the storage core for per-user key derivation.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/makr-code/themis/internal/logger"
)

// ErrSignatureInvalid is returned when a token's signing key cannot be
// resolved (even after one coordinated refetch) or the RSA verification
// fails.
var ErrSignatureInvalid = errors.New("signature invalid")

// JWK is one key of a JWKS document.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the endpoint document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeySetConfig configures the JWKS client.
type KeySetConfig struct {
	// URL of the JWKS document.
	URL string
	// CacheTTL bounds how long fetched keys are served without refetching.
	CacheTTL time.Duration
	// Timeout bounds each fetch.
	Timeout time.Duration
}

// KeySet is a read-through JWKS cache. On an unknown kid the cache is
// invalidated once and refetched; if the kid is still unknown the lookup
// fails with ErrSignatureInvalid.
type KeySet struct {
	client *resty.Client
	cfg    KeySetConfig
	cache  *gocache.Cache
	log    *logger.Logger

	refetchMu sync.Mutex
}

// NewKeySet builds the client.
func NewKeySet(cfg KeySetConfig, log *logger.Logger) *KeySet {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &KeySet{
		client: resty.New().SetTimeout(cfg.Timeout),
		cfg:    cfg,
		cache:  gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		log:    log.GetChildLogger("jwks"),
	}
}

// PublicKey resolves kid to an RSA public key, fetching the JWKS document as
// needed.
func (k *KeySet) PublicKey(kid string) (*rsa.PublicKey, error) {
	if key, ok := k.cache.Get(kid); ok {
		return key.(*rsa.PublicKey), nil
	}

	// Unknown kid: one coordinated refetch, then give up.
	k.refetchMu.Lock()
	defer k.refetchMu.Unlock()
	if key, ok := k.cache.Get(kid); ok {
		return key.(*rsa.PublicKey), nil
	}

	if err := k.refresh(); err != nil {
		return nil, err
	}
	if key, ok := k.cache.Get(kid); ok {
		return key.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("%w: unknown kid %q", ErrSignatureInvalid, kid)
}

// refresh fetches the JWKS document and repopulates the cache.
func (k *KeySet) refresh() error {
	var doc JWKS
	resp, err := k.client.R().SetResult(&doc).Get(k.cfg.URL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch jwks: HTTP %d", resp.StatusCode())
	}

	k.cache.Flush()
	for _, jwk := range doc.Keys {
		if !strings.EqualFold(jwk.Kty, "RSA") {
			continue
		}
		pub, perr := jwk.publicKey()
		if perr != nil {
			k.log.Warn().Err(perr).Str("kid", jwk.Kid).Msg("skipping unparsable JWK")
			continue
		}
		k.cache.Set(jwk.Kid, pub, gocache.DefaultExpiration)
	}
	k.log.Debug().Int("keys", len(doc.Keys)).Msg("refreshed jwks cache")
	return nil
}

// publicKey decodes the base64url modulus and exponent into an RSA key.
func (j JWK) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
