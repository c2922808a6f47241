// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package signing

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// HashedStub is a development signer: the "signature" is the base64 of the
// hash itself. Deterministic, key-free, and indistinguishable from the
// production interface to callers — verification still fails on any mutation
// of the hash or signature.
type HashedStub struct {
	certSerial string
}

// NewHashedStub constructs the stub. The reported cert serial defaults to a
// recognizable demo value.
func NewHashedStub() *HashedStub {
	return &HashedStub{certSerial: "DEMO-CERT-SERIAL"}
}

// SignHash implements [Signer].
func (s *HashedStub) SignHash(hash []byte) (SignatureResult, error) {
	return SignatureResult{
		OK:           true,
		SignatureID:  "sig_" + uuid.NewString(),
		Algorithm:    algorithmRSASHA256,
		SignatureB64: base64.StdEncoding.EncodeToString(hash),
		CertSerial:   s.certSerial,
	}, nil
}

// VerifyHash implements [Signer].
func (s *HashedStub) VerifyHash(hash []byte, sig SignatureResult) bool {
	if !sig.OK {
		return false
	}
	return sig.SignatureB64 == base64.StdEncoding.EncodeToString(hash)
}
