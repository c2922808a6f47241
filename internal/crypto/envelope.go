// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package crypto implements the field-level authenticated-encryption layer:
// AES-256-GCM over a polymorphic key provider, producing self-describing
// envelope blobs.
//
// An envelope carries everything decryption needs — the logical key id, the
// key version that sealed it, the IV, the ciphertext, and the GCM tag — so
// decryption never guesses which key produced a blob.
//
// Two stable serializations exist:
//
//	compact: key_id ":" version ":" b64(iv) ":" b64(ciphertext) ":" b64(tag)
//	JSON:    {"key_id","key_version","iv","ciphertext","tag"} (b64 payloads)
//
// The key id may itself contain ':'; the compact parser splits from the
// right and joins the leading remainder back into the key id.
package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IVSize is the AES-GCM initialization-vector size in bytes (96 bits).
const IVSize = 12

// TagSize is the AES-GCM authentication-tag size in bytes (128 bits).
const TagSize = 16

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

// Envelope is a self-describing encrypted blob.
type Envelope struct {
	KeyID      string
	KeyVersion uint32
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// IsZero reports whether the envelope carries no data. Batch encryption
// leaves a zero envelope in the slot of a failed item.
func (e Envelope) IsZero() bool {
	return e.KeyID == "" && e.KeyVersion == 0 && len(e.IV) == 0 &&
		len(e.Ciphertext) == 0 && len(e.Tag) == 0
}

// Compact serializes the envelope to its colon-delimited form.
func (e Envelope) Compact() string {
	b64 := base64.StdEncoding
	return e.KeyID + ":" +
		strconv.FormatUint(uint64(e.KeyVersion), 10) + ":" +
		b64.EncodeToString(e.IV) + ":" +
		b64.EncodeToString(e.Ciphertext) + ":" +
		b64.EncodeToString(e.Tag)
}

// ParseCompact parses the colon-delimited envelope form. Because the key id
// may itself contain ':', the string is split from the right: the last four
// segments are version, iv, ciphertext, and tag, and everything before them
// is rejoined into the key id.
func ParseCompact(s string) (Envelope, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 5 {
		return Envelope{}, fmt.Errorf("%w: compact form needs 5 segments, got %d", ErrMalformedEnvelope, len(parts))
	}

	n := len(parts)
	keyID := strings.Join(parts[:n-4], ":")

	version, err := strconv.ParseUint(parts[n-4], 10, 32)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad version %q", ErrMalformedEnvelope, parts[n-4])
	}

	b64 := base64.StdEncoding
	iv, err := b64.DecodeString(parts[n-3])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad iv encoding", ErrMalformedEnvelope)
	}
	ct, err := b64.DecodeString(parts[n-2])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad ciphertext encoding", ErrMalformedEnvelope)
	}
	tag, err := b64.DecodeString(parts[n-1])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad tag encoding", ErrMalformedEnvelope)
	}

	return Envelope{
		KeyID:      keyID,
		KeyVersion: uint32(version),
		IV:         iv,
		Ciphertext: ct,
		Tag:        tag,
	}, nil
}

// envelopeJSON is the structured serialization with fixed field names.
type envelopeJSON struct {
	KeyID      string `json:"key_id"`
	KeyVersion uint32 `json:"key_version"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// MarshalJSON implements [json.Marshaler].
func (e Envelope) MarshalJSON() ([]byte, error) {
	b64 := base64.StdEncoding
	return json.Marshal(envelopeJSON{
		KeyID:      e.KeyID,
		KeyVersion: e.KeyVersion,
		IV:         b64.EncodeToString(e.IV),
		Ciphertext: b64.EncodeToString(e.Ciphertext),
		Tag:        b64.EncodeToString(e.Tag),
	})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	b64 := base64.StdEncoding
	iv, err := b64.DecodeString(raw.IV)
	if err != nil {
		return fmt.Errorf("%w: bad iv encoding", ErrMalformedEnvelope)
	}
	ct, err := b64.DecodeString(raw.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: bad ciphertext encoding", ErrMalformedEnvelope)
	}
	tag, err := b64.DecodeString(raw.Tag)
	if err != nil {
		return fmt.Errorf("%w: bad tag encoding", ErrMalformedEnvelope)
	}
	e.KeyID = raw.KeyID
	e.KeyVersion = raw.KeyVersion
	e.IV = iv
	e.Ciphertext = ct
	e.Tag = tag
	return nil
}
