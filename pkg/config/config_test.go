package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APIGEE_ORG", "acme-prod")
	t.Setenv("BUCKET", "acme-bundles")
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_CONCURRENCY", "not-a-number")
	t.Setenv("LEDGER_ENABLED", "true")
	t.Setenv("APIGEE_TIMEOUT", "5s")

	cfg := LoadFromEnv()

	assert.Equal(t, "acme-prod", cfg.Upstream.Org)
	assert.Equal(t, "acme-bundles", cfg.Storage.Bucket)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Storage.Concurrency, "invalid ints fall back to the default")
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "gcs", cfg.Storage.Type)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
}

func TestLoadFile(t *testing.T) {
	t.Setenv("APIGEE_ORG", "from-env")
	t.Setenv("BUCKET", "env-bucket")

	path := filepath.Join(t.TempDir(), "revvault.yaml")
	doc := `
upstream:
  org: from-file
  timeout: 10s
storage:
  type: local
  local_path: /var/lib/revvault
  concurrency: 4
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Upstream.Org)
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/revvault", cfg.Storage.LocalPath)
	assert.Equal(t, 4, cfg.Storage.Concurrency)
	assert.Equal(t, "env-bucket", cfg.Storage.Bucket, "keys absent from the file keep env values")
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid gcs",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing org",
			mutate:  func(c *Config) { c.Upstream.Org = "" },
			wantErr: "upstream org is required",
		},
		{
			name:    "gcs without bucket",
			mutate:  func(c *Config) { c.Storage.Bucket = "" },
			wantErr: "storage bucket is required",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Type = "ftp" },
			wantErr: "unsupported storage type: ftp",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Storage.Concurrency = 0 },
			wantErr: "storage concurrency must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Upstream: UpstreamConfig{Org: "acme"},
				Storage:  StorageConfig{Type: "gcs", Bucket: "b", Concurrency: 1},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
