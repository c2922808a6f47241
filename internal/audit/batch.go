// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package audit implements the tamper-evident audit/SAGA loggers: step
// records are buffered, sealed into AES-GCM-encrypted batches, hashed,
// signed with a detached signature, and appended to two parallel JSON-Lines
// logs. Verification recomputes the hash from the stored parts and checks
// the signature before any plaintext is returned.
package audit

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/makr-code/themis/internal/signing"
)

// Step is one record in a long-running transaction's forward/compensate log.
type Step struct {
	SagaID    string          `json:"saga_id"`
	StepName  string          `json:"step_name"`
	Action    string          `json:"action"` // "forward" | "compensate"
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"` // "success" | "failed" | "pending"
	Timestamp time.Time       `json:"timestamp"`
}

// SignedBatch is the signatures-log line for one sealed batch: everything
// verification needs except the ciphertext itself, which lives in the
// parallel ciphertext log.
type SignedBatch struct {
	BatchID        string                  `json:"batch_id"`
	EntryCount     int                     `json:"entry_count"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        time.Time               `json:"end_time"`
	KeyID          string                  `json:"lek_id"`
	KeyVersion     uint32                  `json:"key_version"`
	IV             []byte                  `json:"-"`
	Tag            []byte                  `json:"-"`
	CiphertextHash []byte                  `json:"-"`
	Signature      signing.SignatureResult `json:"signature"`
}

// signedBatchJSON carries the binary parts base64-encoded.
type signedBatchJSON struct {
	BatchID        string                  `json:"batch_id"`
	EntryCount     int                     `json:"entry_count"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        time.Time               `json:"end_time"`
	KeyID          string                  `json:"lek_id"`
	KeyVersion     uint32                  `json:"key_version"`
	IV             string                  `json:"iv"`
	Tag            string                  `json:"tag"`
	CiphertextHash string                  `json:"ciphertext_hash"`
	Signature      signing.SignatureResult `json:"signature"`
}

// MarshalJSON implements [json.Marshaler].
func (b SignedBatch) MarshalJSON() ([]byte, error) {
	b64 := base64.StdEncoding
	return json.Marshal(signedBatchJSON{
		BatchID:        b.BatchID,
		EntryCount:     b.EntryCount,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		KeyID:          b.KeyID,
		KeyVersion:     b.KeyVersion,
		IV:             b64.EncodeToString(b.IV),
		Tag:            b64.EncodeToString(b.Tag),
		CiphertextHash: b64.EncodeToString(b.CiphertextHash),
		Signature:      b.Signature,
	})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (b *SignedBatch) UnmarshalJSON(data []byte) error {
	var raw signedBatchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b64 := base64.StdEncoding
	iv, err := b64.DecodeString(raw.IV)
	if err != nil {
		return err
	}
	tag, err := b64.DecodeString(raw.Tag)
	if err != nil {
		return err
	}
	hash, err := b64.DecodeString(raw.CiphertextHash)
	if err != nil {
		return err
	}
	b.BatchID = raw.BatchID
	b.EntryCount = raw.EntryCount
	b.StartTime = raw.StartTime
	b.EndTime = raw.EndTime
	b.KeyID = raw.KeyID
	b.KeyVersion = raw.KeyVersion
	b.IV = iv
	b.Tag = tag
	b.CiphertextHash = hash
	b.Signature = raw.Signature
	return nil
}

// ciphertextLine is one line of the ciphertext log.
type ciphertextLine struct {
	BatchID    string `json:"batch_id"`
	Ciphertext string `json:"ciphertext"` // base64
}
