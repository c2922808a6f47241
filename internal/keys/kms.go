// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package keys

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/makr-code/themis/internal/logger"
)

// KMSConfig configures the external KMS provider.
type KMSConfig struct {
	// Endpoint is the KMS base URL, e.g. "https://vault.internal:8200/v1".
	Endpoint string
	// Token is sent as the bearer token on every request.
	Token string
	// Mount is the KV-v2 mount holding data keys (default "secret").
	Mount string
	// TransitMount is the mount exposing the /sign endpoint (default "transit").
	TransitMount string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RetryCount bounds retries on 5xx/network errors.
	RetryCount int
	// RetryWait is the initial backoff between retries.
	RetryWait time.Duration
	// RetryMaxWait caps the backoff.
	RetryMaxWait time.Duration
	// CacheSize bounds the key cache (LRU eviction).
	CacheSize int
	// CacheTTL expires cached keys.
	CacheTTL time.Duration
}

func (c *KMSConfig) withDefaults() {
	if c.Mount == "" {
		c.Mount = "secret"
	}
	if c.TransitMount == "" {
		c.TransitMount = "transit"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 200 * time.Millisecond
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 2 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}

// KMSProvider talks to an external KMS over HTTP with KV-v2 semantics.
// Reads go through a bounded, TTL'd LRU cache; transient (5xx / network)
// failures are retried with backoff before ErrTransientTransport propagates.
type KMSProvider struct {
	client *resty.Client
	cfg    KMSConfig
	cache  *expirable.LRU[string, []byte]
	log    *logger.Logger
}

// kmsKeyPayload is the KV-v2 data document for one key version.
type kmsKeyPayload struct {
	Key       string `json:"key"` // base64 raw key material
	Algorithm string `json:"algorithm"`
	Version   uint32 `json:"version"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type kmsReadResponse struct {
	Data struct {
		Data     kmsKeyPayload `json:"data"`
		Metadata struct {
			Version uint32 `json:"version"`
		} `json:"metadata"`
	} `json:"data"`
}

type kmsListResponse struct {
	Data struct {
		Keys []string `json:"keys"`
	} `json:"data"`
}

type kmsSignResponse struct {
	Data struct {
		Signature string `json:"signature"`
	} `json:"data"`
}

// NewKMSProvider builds a provider from cfg.
func NewKMSProvider(cfg KMSConfig, log *logger.Logger) *KMSProvider {
	cfg.withDefaults()

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Token).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &KMSProvider{
		client: client,
		cfg:    cfg,
		cache:  expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		log:    log.GetChildLogger("kms-provider"),
	}
}

func cacheKey(keyID string, version uint32) string {
	return keyID + ":" + strconv.FormatUint(uint64(version), 10)
}

// mapStatus translates an HTTP outcome into the error taxonomy: 404 is
// ErrKeyNotFound, 403 ErrKeyOperationDenied, 5xx (post-retry) and transport
// failures ErrTransientTransport.
func (p *KMSProvider) mapStatus(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransientTransport, what, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrKeyNotFound, what)
	case resp.StatusCode() == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrKeyOperationDenied, what)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: HTTP %d", ErrTransientTransport, what, resp.StatusCode())
	case resp.IsError():
		return fmt.Errorf("kms %s: HTTP %d: %s", what, resp.StatusCode(), resp.String())
	}
	return nil
}

// fetch reads one key version (0 = latest) from the KMS, bypassing the cache.
func (p *KMSProvider) fetch(keyID string, version uint32) (kmsKeyPayload, error) {
	req := p.client.R().SetResult(&kmsReadResponse{})
	if version > 0 {
		req.SetQueryParam("version", strconv.FormatUint(uint64(version), 10))
	}
	resp, err := req.Get(p.cfg.Mount + "/data/keys/" + keyID)
	if err := p.mapStatus(resp, err, "read key "+keyID); err != nil {
		return kmsKeyPayload{}, err
	}

	out := resp.Result().(*kmsReadResponse)
	payload := out.Data.Data
	if payload.Version == 0 {
		payload.Version = out.Data.Metadata.Version
	}
	if payload.Status == string(StatusDeleted) {
		return kmsKeyPayload{}, fmt.Errorf("%w: key %s v%d is deleted", ErrKeyOperationDenied, keyID, payload.Version)
	}
	return payload, nil
}

func (p *KMSProvider) keyBytes(keyID string, version uint32) ([]byte, uint32, error) {
	if version > 0 {
		if cached, ok := p.cache.Get(cacheKey(keyID, version)); ok {
			return cloneBytes(cached), version, nil
		}
	}

	payload, err := p.fetch(keyID, version)
	if err != nil {
		return nil, 0, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Key)
	if err != nil {
		return nil, 0, fmt.Errorf("kms key %s v%d: bad key encoding: %w", keyID, payload.Version, err)
	}
	if len(raw) != 32 {
		return nil, 0, fmt.Errorf("%w: kms returned %d bytes", ErrBadKeyLength, len(raw))
	}
	p.cache.Add(cacheKey(keyID, payload.Version), cloneBytes(raw))
	return raw, payload.Version, nil
}

// GetKey implements [Provider].
func (p *KMSProvider) GetKey(keyID string) ([]byte, error) {
	key, _, err := p.keyBytes(keyID, 0)
	return key, err
}

// GetKeyVersion implements [Provider].
func (p *KMSProvider) GetKeyVersion(keyID string, version uint32) ([]byte, error) {
	key, _, err := p.keyBytes(keyID, version)
	return key, err
}

// CurrentVersion implements [Provider].
func (p *KMSProvider) CurrentVersion(keyID string) (uint32, error) {
	payload, err := p.fetch(keyID, 0)
	if err != nil {
		return 0, err
	}
	return payload.Version, nil
}

// RotateKey implements [Provider]. A fresh random key is written as the next
// version; the KMS tracks version numbering, so rotation stays monotone even
// across concurrent rotators.
func (p *KMSProvider) RotateKey(keyID string) (uint32, error) {
	current, err := p.fetch(keyID, 0)
	if err != nil {
		return 0, err
	}
	next := current.Version + 1

	material := make([]byte, 32)
	if err := fillRandom(material); err != nil {
		return 0, err
	}

	if err := p.writeKey(keyID, material, next); err != nil {
		return 0, err
	}
	p.log.Info().Str("key_id", keyID).Uint32("version", next).Msg("rotated key")
	return next, nil
}

func (p *KMSProvider) writeKey(keyID string, material []byte, version uint32) error {
	body := map[string]any{
		"data": kmsKeyPayload{
			Key:       base64.StdEncoding.EncodeToString(material),
			Algorithm: algorithmAESGCM,
			Version:   version,
		},
	}
	resp, err := p.client.R().SetBody(body).Post(p.cfg.Mount + "/data/keys/" + keyID)
	return p.mapStatus(resp, err, "write key "+keyID)
}

// ListKeys implements [Provider]. LISTs the key names, then reads the latest
// version of each for metadata.
func (p *KMSProvider) ListKeys() ([]Metadata, error) {
	resp, err := p.client.R().
		SetResult(&kmsListResponse{}).
		Execute("LIST", p.cfg.Mount+"/metadata/keys")
	if err := p.mapStatus(resp, err, "list keys"); err != nil {
		return nil, err
	}

	names := resp.Result().(*kmsListResponse).Data.Keys
	out := make([]Metadata, 0, len(names))
	for _, name := range names {
		payload, err := p.fetch(name, 0)
		if err != nil {
			p.log.Warn().Err(err).Str("key_id", name).Msg("listing: skipping unreadable key")
			continue
		}
		meta := Metadata{
			KeyID:     name,
			Version:   payload.Version,
			Algorithm: payload.Algorithm,
			Status:    Status(payload.Status),
		}
		if meta.Status == "" {
			meta.Status = StatusActive
		}
		if payload.CreatedAt != "" {
			if t, terr := time.Parse(time.RFC3339, payload.CreatedAt); terr == nil {
				meta.CreatedAt = t
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

// KeyMetadata implements [Provider].
func (p *KMSProvider) KeyMetadata(keyID string, version uint32) (Metadata, error) {
	payload, err := p.fetch(keyID, version)
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{
		KeyID:     keyID,
		Version:   payload.Version,
		Algorithm: payload.Algorithm,
		Status:    Status(payload.Status),
	}
	if meta.Status == "" {
		meta.Status = StatusActive
	}
	return meta, nil
}

// DeleteKey implements [Provider]. Refuses ACTIVE versions, then deletes the
// key's metadata (all versions) on the KMS and drops cached material.
func (p *KMSProvider) DeleteKey(keyID string, version uint32) error {
	meta, err := p.KeyMetadata(keyID, version)
	if err != nil {
		return err
	}
	if meta.Status == StatusActive {
		return fmt.Errorf("%w: cannot delete ACTIVE key %s v%d", ErrKeyOperationDenied, keyID, version)
	}

	resp, err := p.client.R().Delete(p.cfg.Mount + "/metadata/keys/" + keyID)
	if err := p.mapStatus(resp, err, "delete key "+keyID); err != nil {
		return err
	}
	prefix := keyID + ":"
	for _, k := range p.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			p.cache.Remove(k)
		}
	}
	return nil
}

// HasKey implements [Provider].
func (p *KMSProvider) HasKey(keyID string, version uint32) bool {
	_, err := p.fetch(keyID, version)
	return err == nil
}

// CreateKeyFromBytes implements [Provider].
func (p *KMSProvider) CreateKeyFromBytes(keyID string, key []byte, _ Metadata) (uint32, error) {
	if len(key) != 32 {
		return 0, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(key))
	}

	var next uint32 = 1
	if current, err := p.fetch(keyID, 0); err == nil {
		next = current.Version + 1
	}
	if err := p.writeKey(keyID, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// SignHash delegates a detached signature over hash to the KMS transit
// backend. The response signature may carry a "vault:v1:" style prefix,
// which is stripped down to the raw base64 payload.
func (p *KMSProvider) SignHash(keyID string, hash []byte) (string, error) {
	body := map[string]any{"input": base64.StdEncoding.EncodeToString(hash)}
	resp, err := p.client.R().
		SetResult(&kmsSignResponse{}).
		SetBody(body).
		Post(p.cfg.TransitMount + "/sign/" + keyID)
	if err := p.mapStatus(resp, err, "sign with "+keyID); err != nil {
		return "", err
	}

	sig := resp.Result().(*kmsSignResponse).Data.Signature
	if i := strings.LastIndex(sig, ":"); i >= 0 {
		sig = sig[i+1:]
	}
	if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
		return "", fmt.Errorf("kms sign: signature is not base64: %w", err)
	}
	return sig, nil
}
