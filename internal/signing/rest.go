// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package signing

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestSignerConfig configures the REST signing client.
type RestSignerConfig struct {
	// Endpoint is the signing service base URL.
	Endpoint string
	// Token is sent as the bearer token, if set.
	Token string
	// Timeout bounds each request.
	Timeout time.Duration
	// RetryCount bounds retries on 5xx/network errors.
	RetryCount int
	// RetryWait is the initial backoff between retries.
	RetryWait time.Duration
}

// RestSigner delegates signing to a remote PKI service over HTTP.
type RestSigner struct {
	client *resty.Client
}

type restSignRequest struct {
	Input string `json:"input"`
}

type restSignResponse struct {
	OK           bool   `json:"ok"`
	SignatureID  string `json:"signature_id"`
	Algorithm    string `json:"algorithm"`
	SignatureB64 string `json:"signature_b64"`
	CertSerial   string `json:"cert_serial"`
}

type restVerifyResponse struct {
	Valid bool `json:"valid"`
}

// NewRestSigner builds the client from cfg.
func NewRestSigner(cfg RestSignerConfig) *RestSigner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &RestSigner{client: client}
}

// SignHash implements [Signer].
func (s *RestSigner) SignHash(hash []byte) (SignatureResult, error) {
	resp, err := s.client.R().
		SetResult(&restSignResponse{}).
		SetBody(restSignRequest{Input: base64.StdEncoding.EncodeToString(hash)}).
		Post("/sign")
	if err != nil {
		return SignatureResult{}, fmt.Errorf("sign request: %w", err)
	}
	if resp.IsError() {
		return SignatureResult{}, fmt.Errorf("sign request: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	out := resp.Result().(*restSignResponse)
	return SignatureResult{
		OK:           out.OK,
		SignatureID:  out.SignatureID,
		Algorithm:    out.Algorithm,
		SignatureB64: out.SignatureB64,
		CertSerial:   out.CertSerial,
	}, nil
}

// VerifyHash implements [Signer]. Remote verification failures (network,
// non-2xx) count as invalid.
func (s *RestSigner) VerifyHash(hash []byte, sig SignatureResult) bool {
	if !sig.OK {
		return false
	}
	resp, err := s.client.R().
		SetResult(&restVerifyResponse{}).
		SetBody(map[string]any{
			"input":     base64.StdEncoding.EncodeToString(hash),
			"signature": sig,
		}).
		Post("/verify")
	if err != nil || resp.IsError() {
		return false
	}
	return resp.Result().(*restVerifyResponse).Valid
}
