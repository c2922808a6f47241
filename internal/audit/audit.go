// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package audit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/signing"
)

// AuditLoggerConfig tunes the data-access audit log.
type AuditLoggerConfig struct {
	Enabled         bool
	EncryptThenSign bool
	// LogPath is the JSON-Lines sink.
	LogPath string
	// KeyID is the fallback log-encryption key id when no LEK manager is
	// attached.
	KeyID string
}

func (c *AuditLoggerConfig) withDefaults() {
	if c.LogPath == "" {
		c.LogPath = "data/logs/audit.jsonl"
	}
	if c.KeyID == "" {
		c.KeyID = "saga_log"
	}
}

// auditRecord is one audit-log line: the sealed event plus everything needed
// to verify it.
type auditRecord struct {
	Timestamp  time.Time               `json:"timestamp"`
	KeyID      string                  `json:"key_id"`
	KeyVersion uint32                  `json:"key_version"`
	IV         string                  `json:"iv"`
	Ciphertext string                  `json:"ciphertext"`
	Tag        string                  `json:"tag"`
	Hash       string                  `json:"hash"`
	Signature  signing.SignatureResult `json:"signature"`
}

// AuditLogger appends encrypt-then-sign audit events to a JSON-Lines file.
// Unlike the SAGA logger it seals every event individually, trading
// throughput for immediate durability of access records.
type AuditLogger struct {
	cipher *crypto.FieldCipher
	signer signing.Signer
	lek    *LEKManager // optional daily key rotation
	cfg    AuditLoggerConfig
	log    *logger.Logger

	fileMu sync.Mutex
}

// NewAuditLogger wires the logger. lek may be nil.
func NewAuditLogger(cipher *crypto.FieldCipher, signer signing.Signer, lek *LEKManager, cfg AuditLoggerConfig, log *logger.Logger) *AuditLogger {
	cfg.withDefaults()
	return &AuditLogger{
		cipher: cipher,
		signer: signer,
		lek:    lek,
		cfg:    cfg,
		log:    log.GetChildLogger("audit-logger"),
	}
}

// LogEvent seals one audit event: the canonical JSON is encrypted, the
// ciphertext parts hashed, the hash signed, and the full record appended to
// the log. With EncryptThenSign disabled the event is appended plaintext.
func (l *AuditLogger) LogEvent(event any) error {
	if !l.cfg.Enabled {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit event: serialize: %w", err)
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if !l.cfg.EncryptThenSign {
		return appendJSONLine(l.cfg.LogPath, json.RawMessage(payload))
	}

	keyID := l.cfg.KeyID
	if l.lek != nil {
		keyID, err = l.lek.CurrentLEK()
		if err != nil {
			return fmt.Errorf("audit event: current LEK: %w", err)
		}
	}

	env, err := l.cipher.Encrypt(payload, keyID)
	if err != nil {
		return fmt.Errorf("audit event: encrypt: %w", err)
	}
	hash := hashCiphertext(env)
	sig, err := l.signer.SignHash(hash)
	if err != nil {
		return fmt.Errorf("audit event: sign: %w", err)
	}

	b64 := base64.StdEncoding
	return appendJSONLine(l.cfg.LogPath, auditRecord{
		Timestamp:  time.Now(),
		KeyID:      env.KeyID,
		KeyVersion: env.KeyVersion,
		IV:         b64.EncodeToString(env.IV),
		Ciphertext: b64.EncodeToString(env.Ciphertext),
		Tag:        b64.EncodeToString(env.Tag),
		Hash:       b64.EncodeToString(hash),
		Signature:  sig,
	})
}
