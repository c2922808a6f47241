// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

const algorithmRSASHA256 = "RSA-SHA256"

// LocalSigner signs hashes with an RSA private key loaded from PEM on disk.
// The default algorithm is RSA-SHA256 (PKCS#1 v1.5 over a SHA-256 digest).
type LocalSigner struct {
	key        *rsa.PrivateKey
	certSerial string
}

// NewLocalSigner loads the PEM-encoded RSA private key at keyPath.
// certSerial is reported on every signature; pass the serial of the
// certificate the key belongs to.
func NewLocalSigner(keyPath, certSerial string) (*LocalSigner, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			key, ok = parsed.(*rsa.PrivateKey)
			if !ok {
				err = errors.New("signing key is not RSA")
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	return &LocalSigner{key: key, certSerial: certSerial}, nil
}

// NewLocalSignerFromKey wraps an in-memory RSA key. Used by tests.
func NewLocalSignerFromKey(key *rsa.PrivateKey, certSerial string) *LocalSigner {
	return &LocalSigner{key: key, certSerial: certSerial}
}

// SignHash implements [Signer]. hash must be a SHA-256 digest.
func (s *LocalSigner) SignHash(hash []byte) (SignatureResult, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hash)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("rsa sign: %w", err)
	}
	return SignatureResult{
		OK:           true,
		SignatureID:  "sig_" + uuid.NewString(),
		Algorithm:    algorithmRSASHA256,
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
		CertSerial:   s.certSerial,
	}, nil
}

// VerifyHash implements [Signer].
func (s *LocalSigner) VerifyHash(hash []byte, sig SignatureResult) bool {
	if !sig.OK {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig.SignatureB64)
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, hash, raw) == nil
}
