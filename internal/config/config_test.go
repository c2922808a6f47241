// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "themis", cfg.ServiceID)
	assert.Equal(t, "data/db", cfg.DataDir)
	assert.Equal(t, "secret", cfg.KMS.Mount)
	assert.Equal(t, "transit", cfg.KMS.TransitMount)
	assert.Equal(t, 3, cfg.KMS.RetryCount)
	assert.Equal(t, time.Hour, cfg.KMS.CacheTTL)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 1000, cfg.Audit.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Audit.BatchInterval)
	assert.Equal(t, 10*time.Minute, cfg.JWKS.CacheTTL)
	assert.Equal(t, 1024, cfg.DerivedKeyCacheSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("THEMIS_SERVICE_ID", "prod-core")
	t.Setenv("THEMIS_DATA_DIR", "/var/lib/themis")
	t.Setenv("THEMIS_KMS_ENDPOINT", "https://vault.internal:8200/v1")
	t.Setenv("THEMIS_KMS_TOKEN", "s.token")
	t.Setenv("THEMIS_AUDIT_BATCH_SIZE", "50")
	t.Setenv("THEMIS_AUDIT_BATCH_INTERVAL", "30s")
	t.Setenv("THEMIS_JWKS_URL", "https://idp/jwks.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod-core", cfg.ServiceID)
	assert.Equal(t, "/var/lib/themis", cfg.DataDir)
	assert.Equal(t, "https://vault.internal:8200/v1", cfg.KMS.Endpoint)
	assert.Equal(t, 50, cfg.Audit.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Audit.BatchInterval)
	assert.Equal(t, "https://idp/jwks.json", cfg.JWKS.URL)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.ServiceID = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.KMS.Endpoint = "https://vault"
	cfg.KMS.Token = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Audit.BatchSize = 0
	assert.Error(t, cfg.Validate())
}
