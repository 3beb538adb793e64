package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  mode: release\n"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sql", cfg.Queue.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 15*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Queue.Heartbeat)
	assert.Equal(t, 250, cfg.Extraction.ProductPageSize)
	assert.Equal(t, 50, cfg.Extraction.MinConfidence)
	assert.Equal(t, 10*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, "2024-01", cfg.Shopify.APIVersion)
	assert.Equal(t, 4, cfg.Shopify.RateBurst)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
queue:
  backend: redis
  backoff_base: 500ms
worker:
  concurrency: 8
shopify:
  api_version: "2024-04"
`)
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("S3_BUCKET", "catalog-archive")
	t.Setenv("EXTRACTION_PRODUCT_PAGE_SIZE", "100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.BackoffBase)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "2024-04", cfg.Shopify.APIVersion)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "catalog-archive", cfg.Storage.Bucket)
	assert.Equal(t, "catalog-archive", cfg.GetStorageConfig().Bucket)
	assert.Equal(t, 100, cfg.Extraction.ProductPageSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"unknown queue", "queue:\n  backend: kafka\n"},
		{"page size too large", "extraction:\n  product_page_size: 500\n"},
		{"no attempts", "queue:\n  max_attempts: 0\n"},
		{"heartbeat outlasts lease", "queue:\n  visibility_timeout: 1m\n  heartbeat: 2m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	assert.Equal(t, "./data/x.db", sqlite.DSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "shop", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/shop?sslmode=disable", pg.DSN())

	pg.URL = "postgres://override"
	assert.Equal(t, "postgres://override", pg.DSN())
}
