// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/signing"
)

// SagaLoggerConfig tunes batching and sealing.
type SagaLoggerConfig struct {
	Enabled         bool
	EncryptThenSign bool
	// BatchSize seals the buffer when it reaches this many steps.
	BatchSize int
	// BatchInterval seals the buffer when the oldest buffered step is this
	// old, checked on every LogStep.
	BatchInterval time.Duration
	// LogPath is the ciphertext log (JSON Lines, one batch per line).
	LogPath string
	// SignaturePath is the signatures log (JSON Lines, one batch per line).
	SignaturePath string
	// KeyID names the log-encryption key. When a LEK manager is attached it
	// overrides this with the per-date key.
	KeyID string
}

func (c *SagaLoggerConfig) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Minute
	}
	if c.LogPath == "" {
		c.LogPath = "data/logs/saga.jsonl"
	}
	if c.SignaturePath == "" {
		c.SignaturePath = "data/logs/saga_signatures.jsonl"
	}
	if c.KeyID == "" {
		c.KeyID = "saga_lek"
	}
}

// SagaLogger buffers SAGA steps and seals them into signed, encrypted
// batches. LogStep and sealing are serialized by one mutex; sealing writes
// both log files under that lock so the relative line order of the two logs
// matches per batch id.
type SagaLogger struct {
	cipher *crypto.FieldCipher
	signer signing.Signer
	lek    *LEKManager // optional daily key rotation
	cfg    SagaLoggerConfig
	log    *logger.Logger

	mu         sync.Mutex
	buffer     []Step
	batchStart time.Time
}

// NewSagaLogger wires the logger. lek may be nil; the static cfg.KeyID is
// used then.
func NewSagaLogger(cipher *crypto.FieldCipher, signer signing.Signer, lek *LEKManager, cfg SagaLoggerConfig, log *logger.Logger) *SagaLogger {
	cfg.withDefaults()
	return &SagaLogger{
		cipher: cipher,
		signer: signer,
		lek:    lek,
		cfg:    cfg,
		log:    log.GetChildLogger("saga-logger"),
	}
}

// LogStep appends a step to the in-memory buffer and seals the batch when
// the size or interval threshold is reached.
func (l *SagaLogger) LogStep(step Step) error {
	if !l.cfg.Enabled {
		return nil
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buffer) == 0 {
		l.batchStart = time.Now()
	}
	l.buffer = append(l.buffer, step)

	if len(l.buffer) >= l.cfg.BatchSize || time.Since(l.batchStart) >= l.cfg.BatchInterval {
		return l.sealLocked()
	}
	return nil
}

// Flush seals whatever is buffered. Call on shutdown so pending records are
// not lost.
func (l *SagaLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealLocked()
}

// sealLocked serializes the buffer canonically, encrypts it, hashes the
// ciphertext parts, obtains a detached signature, and appends one line to
// each log. The buffer resets afterwards. Caller holds l.mu.
func (l *SagaLogger) sealLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	payload, err := json.Marshal(l.buffer)
	if err != nil {
		return fmt.Errorf("seal batch: serialize steps: %w", err)
	}

	keyID := l.cfg.KeyID
	if l.lek != nil {
		keyID, err = l.lek.CurrentLEK()
		if err != nil {
			return fmt.Errorf("seal batch: current LEK: %w", err)
		}
	}

	env, err := l.cipher.Encrypt(payload, keyID)
	if err != nil {
		return fmt.Errorf("seal batch: encrypt: %w", err)
	}

	hash := hashCiphertext(env)
	sig, err := l.signer.SignHash(hash)
	if err != nil {
		return fmt.Errorf("seal batch: sign: %w", err)
	}

	now := time.Now()
	batch := SignedBatch{
		BatchID:        fmt.Sprintf("batch_%020d", now.UnixNano()),
		EntryCount:     len(l.buffer),
		StartTime:      l.batchStart,
		EndTime:        now,
		KeyID:          env.KeyID,
		KeyVersion:     env.KeyVersion,
		IV:             env.IV,
		Tag:            env.Tag,
		CiphertextHash: hash,
		Signature:      sig,
	}

	if err := appendJSONLine(l.cfg.LogPath, ciphertextLine{
		BatchID:    batch.BatchID,
		Ciphertext: base64.StdEncoding.EncodeToString(env.Ciphertext),
	}); err != nil {
		return fmt.Errorf("seal batch: ciphertext log: %w", err)
	}
	if err := appendJSONLine(l.cfg.SignaturePath, batch); err != nil {
		return fmt.Errorf("seal batch: signatures log: %w", err)
	}

	l.log.Debug().Str("batch_id", batch.BatchID).Int("entries", batch.EntryCount).Msg("sealed saga batch")
	l.buffer = l.buffer[:0]
	l.batchStart = time.Time{}
	return nil
}

// VerifyBatch recomputes SHA-256(iv ‖ ciphertext ‖ tag) from the two log
// lines for batchID and checks the stored hash and the detached signature.
func (l *SagaLogger) VerifyBatch(batchID string) (bool, error) {
	batch, ciphertext, err := l.loadLines(batchID)
	if err != nil {
		return false, err
	}

	env := crypto.Envelope{IV: batch.IV, Ciphertext: ciphertext, Tag: batch.Tag}
	hash := hashCiphertext(env)
	if !bytes.Equal(hash, batch.CiphertextHash) {
		return false, nil
	}
	return l.signer.VerifyHash(hash, batch.Signature), nil
}

// LoadBatch verifies batchID and, when both checks pass, decrypts and
// returns its steps. A failed verification returns an empty slice.
func (l *SagaLogger) LoadBatch(batchID string) ([]Step, error) {
	ok, err := l.VerifyBatch(batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.log.Warn().Str("batch_id", batchID).Msg("batch failed verification")
		return nil, nil
	}

	batch, ciphertext, err := l.loadLines(batchID)
	if err != nil {
		return nil, err
	}

	env := crypto.Envelope{
		KeyID:      batch.KeyID,
		KeyVersion: batch.KeyVersion,
		IV:         batch.IV,
		Ciphertext: ciphertext,
		Tag:        batch.Tag,
	}
	plaintext, err := l.cipher.Decrypt(env)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}

	var steps []Step
	if err := json.Unmarshal(plaintext, &steps); err != nil {
		return nil, fmt.Errorf("load batch %s: parse steps: %w", batchID, err)
	}
	return steps, nil
}

// ListBatches returns the batch ids in the signatures log, in file order
// (chronological: ids are derived from sealing time).
func (l *SagaLogger) ListBatches() ([]string, error) {
	f, err := os.Open(l.cfg.SignaturePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var batch SignedBatch
		if err := json.Unmarshal(scanner.Bytes(), &batch); err != nil {
			continue
		}
		ids = append(ids, batch.BatchID)
	}
	return ids, scanner.Err()
}

// loadLines finds the signatures-log and ciphertext-log lines for batchID.
func (l *SagaLogger) loadLines(batchID string) (SignedBatch, []byte, error) {
	var batch SignedBatch
	found := false
	if err := scanJSONLines(l.cfg.SignaturePath, func(line []byte) bool {
		var b SignedBatch
		if json.Unmarshal(line, &b) == nil && b.BatchID == batchID {
			batch = b
			found = true
			return false
		}
		return true
	}); err != nil {
		return SignedBatch{}, nil, err
	}
	if !found {
		return SignedBatch{}, nil, fmt.Errorf("batch %s: no signatures-log line", batchID)
	}

	var ciphertext []byte
	found = false
	if err := scanJSONLines(l.cfg.LogPath, func(line []byte) bool {
		var cl ciphertextLine
		if json.Unmarshal(line, &cl) == nil && cl.BatchID == batchID {
			raw, derr := base64.StdEncoding.DecodeString(cl.Ciphertext)
			if derr == nil {
				ciphertext = raw
				found = true
			}
			return false
		}
		return true
	}); err != nil {
		return SignedBatch{}, nil, err
	}
	if !found {
		return SignedBatch{}, nil, fmt.Errorf("batch %s: no ciphertext-log line", batchID)
	}

	return batch, ciphertext, nil
}

// hashCiphertext computes SHA-256(iv ‖ ciphertext ‖ tag).
func hashCiphertext(env crypto.Envelope) []byte {
	h := sha256.New()
	h.Write(env.IV)
	h.Write(env.Ciphertext)
	h.Write(env.Tag)
	return h.Sum(nil)
}

// appendJSONLine appends one JSON document plus newline to path, creating
// parent directories on first write.
func appendJSONLine(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// scanJSONLines visits each line of a JSON-Lines file until visit returns
// false.
func scanJSONLines(path string, visit func(line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if !visit(scanner.Bytes()) {
			return nil
		}
	}
	return scanner.Err()
}
