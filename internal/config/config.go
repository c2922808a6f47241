// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package config loads the storage core's configuration from environment
// variables. Every knob has a workable default so a bare process starts with
// an embedded store, the PKI-backed provider, and the hashed stub signer.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates all tunables of the storage core.
type Config struct {
	// ServiceID scopes the KEK derivation; changing it orphans wrapped keys.
	ServiceID string `env:"THEMIS_SERVICE_ID" envDefault:"themis"`
	// DataDir is the Badger database directory.
	DataDir string `env:"THEMIS_DATA_DIR" envDefault:"data/db"`

	KMS   KMS   `envPrefix:"THEMIS_KMS_"`
	PKI   PKI   `envPrefix:"THEMIS_PKI_"`
	Audit Audit `envPrefix:"THEMIS_AUDIT_"`
	JWKS  JWKS  `envPrefix:"THEMIS_JWKS_"`

	// DerivedKeyCacheSize bounds the HKDF memoization cache.
	DerivedKeyCacheSize int `env:"THEMIS_DERIVED_KEY_CACHE_SIZE" envDefault:"1024"`
	// DerivedKeyCacheTTL expires memoized derivations.
	DerivedKeyCacheTTL time.Duration `env:"THEMIS_DERIVED_KEY_CACHE_TTL" envDefault:"1h"`
}

// KMS configures the optional external key-management service. An empty
// Endpoint selects the PKI-backed provider instead.
type KMS struct {
	Endpoint     string        `env:"ENDPOINT"`
	Token        string        `env:"TOKEN"`
	Mount        string        `env:"MOUNT" envDefault:"secret"`
	TransitMount string        `env:"TRANSIT_MOUNT" envDefault:"transit"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RetryCount   int           `env:"RETRY_COUNT" envDefault:"3"`
	RetryWait    time.Duration `env:"RETRY_WAIT" envDefault:"200ms"`
	RetryMaxWait time.Duration `env:"RETRY_MAX_WAIT" envDefault:"2s"`
	CacheSize    int           `env:"CACHE_SIZE" envDefault:"1000"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`
}

// PKI configures signing. With an Endpoint the REST signer is used, with a
// KeyPath the local PEM signer, otherwise the hashed stub.
type PKI struct {
	Endpoint   string        `env:"ENDPOINT"`
	Token      string        `env:"TOKEN"`
	KeyPath    string        `env:"KEY_PATH"`
	CertSerial string        `env:"CERT_SERIAL"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RetryCount int           `env:"RETRY_COUNT" envDefault:"3"`
}

// Audit configures the SAGA and audit loggers.
type Audit struct {
	Enabled         bool          `env:"ENABLED" envDefault:"true"`
	EncryptThenSign bool          `env:"ENCRYPT_THEN_SIGN" envDefault:"true"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"1000"`
	BatchInterval   time.Duration `env:"BATCH_INTERVAL" envDefault:"5m"`
	SagaLogPath     string        `env:"SAGA_LOG_PATH" envDefault:"data/logs/saga.jsonl"`
	SignaturePath   string        `env:"SIGNATURE_PATH" envDefault:"data/logs/saga_signatures.jsonl"`
	AuditLogPath    string        `env:"LOG_PATH" envDefault:"data/logs/audit.jsonl"`
	KeyID           string        `env:"KEY_ID" envDefault:"saga_lek"`
	UseLEK          bool          `env:"USE_LEK" envDefault:"false"`
}

// JWKS configures the token validator.
type JWKS struct {
	URL      string        `env:"URL"`
	Issuer   string        `env:"ISSUER"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.ServiceID == "" {
		return errors.New("config: service id must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("config: data dir must not be empty")
	}
	if c.KMS.Endpoint != "" && c.KMS.Token == "" {
		return errors.New("config: KMS endpoint set but no token")
	}
	if c.Audit.BatchSize <= 0 {
		return errors.New("config: audit batch size must be positive")
	}
	if c.Audit.BatchInterval <= 0 {
		return errors.New("config: audit batch interval must be positive")
	}
	return nil
}
