// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Command themisd wires the storage core: configuration, logger, the Badger
// byte store, the key provider, the field cipher, the index engine, and the
// audit loggers. The surrounding repository mounts its own API surface on
// top of these services; this process only assembles and supervises them.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/makr-code/themis/internal/audit"
	"github.com/makr-code/themis/internal/config"
	"github.com/makr-code/themis/internal/crypto"
	"github.com/makr-code/themis/internal/index"
	"github.com/makr-code/themis/internal/kdf"
	"github.com/makr-code/themis/internal/keys"
	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/signing"
	"github.com/makr-code/themis/internal/storage"
)

func main() {
	log := logger.NewLogger("themisd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := storage.OpenBadger(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open byte store")
	}
	defer store.Close()

	derived := kdf.NewCache(cfg.DerivedKeyCacheSize, cfg.DerivedKeyCacheTTL)

	var provider keys.Provider
	if cfg.KMS.Endpoint != "" {
		provider = keys.NewKMSProvider(keys.KMSConfig{
			Endpoint:     cfg.KMS.Endpoint,
			Token:        cfg.KMS.Token,
			Mount:        cfg.KMS.Mount,
			TransitMount: cfg.KMS.TransitMount,
			Timeout:      cfg.KMS.Timeout,
			RetryCount:   cfg.KMS.RetryCount,
			RetryWait:    cfg.KMS.RetryWait,
			RetryMaxWait: cfg.KMS.RetryMaxWait,
			CacheSize:    cfg.KMS.CacheSize,
			CacheTTL:     cfg.KMS.CacheTTL,
		}, log)
	} else {
		provider, err = keys.NewPKIProvider(store, cfg.ServiceID, derived, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize key provider")
		}
	}

	cipher := crypto.NewFieldCipher(provider, derived, log)
	engine := index.NewEngine(store, log)

	var signer signing.Signer
	switch {
	case cfg.PKI.Endpoint != "":
		signer = signing.NewRestSigner(signing.RestSignerConfig{
			Endpoint:   cfg.PKI.Endpoint,
			Token:      cfg.PKI.Token,
			Timeout:    cfg.PKI.Timeout,
			RetryCount: cfg.PKI.RetryCount,
		})
	case cfg.PKI.KeyPath != "":
		signer, err = signing.NewLocalSigner(cfg.PKI.KeyPath, cfg.PKI.CertSerial)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load signing key")
		}
	default:
		log.Warn().Msg("no PKI configured, using hashed stub signer")
		signer = signing.NewHashedStub()
	}

	var lek *audit.LEKManager
	if cfg.Audit.UseLEK {
		lek = audit.NewLEKManager(store, provider, cipher, "dek", log)
	}
	saga := audit.NewSagaLogger(cipher, signer, lek, audit.SagaLoggerConfig{
		Enabled:         cfg.Audit.Enabled,
		EncryptThenSign: cfg.Audit.EncryptThenSign,
		BatchSize:       cfg.Audit.BatchSize,
		BatchInterval:   cfg.Audit.BatchInterval,
		LogPath:         cfg.Audit.SagaLogPath,
		SignaturePath:   cfg.Audit.SignaturePath,
		KeyID:           cfg.Audit.KeyID,
	}, log)
	_ = audit.NewAuditLogger(cipher, signer, lek, audit.AuditLoggerConfig{
		Enabled:         cfg.Audit.Enabled,
		EncryptThenSign: cfg.Audit.EncryptThenSign,
		LogPath:         cfg.Audit.AuditLogPath,
		KeyID:           cfg.Audit.KeyID,
	}, log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("service_id", cfg.ServiceID).
		Bool("kms", cfg.KMS.Endpoint != "").
		Msg("storage core ready")
	_ = engine

	// Block until shutdown, then flush pending audit batches.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	if err := saga.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush saga buffer on shutdown")
	}
	log.Info().Msg("shutdown complete")
}
