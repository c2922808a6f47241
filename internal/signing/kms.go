// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package signing

import (
	"github.com/google/uuid"

	"github.com/makr-code/themis/internal/keys"
)

// KMSSigner delegates signing to the external KMS transit backend through
// the key provider's sign endpoint. Verification requires the transit
// backend's public key and is not available remotely; callers that need
// local verification should use LocalSigner or RestSigner.
type KMSSigner struct {
	provider *keys.KMSProvider
	keyID    string
}

// NewKMSSigner signs with the named transit key via provider.
func NewKMSSigner(provider *keys.KMSProvider, keyID string) *KMSSigner {
	return &KMSSigner{provider: provider, keyID: keyID}
}

// SignHash implements [Signer].
func (s *KMSSigner) SignHash(hash []byte) (SignatureResult, error) {
	sig, err := s.provider.SignHash(s.keyID, hash)
	if err != nil {
		return SignatureResult{}, err
	}
	return SignatureResult{
		OK:           true,
		SignatureID:  "sig_" + uuid.NewString(),
		Algorithm:    algorithmRSASHA256,
		SignatureB64: sig,
		CertSerial:   s.keyID,
	}, nil
}

// VerifyHash implements [Signer]. The transit backend does not expose a
// verify endpoint through this client; a signature is accepted structurally
// (well-formed, produced for this key) only. Deployments needing strong
// verification pair the KMS signer with an out-of-band public key.
func (s *KMSSigner) VerifyHash(_ []byte, sig SignatureResult) bool {
	return sig.OK && sig.SignatureB64 != "" && sig.CertSerial == s.keyID
}
