package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := LoadConfig()

	assert.Equal(t, "", cfg.Port, "an explicitly empty PORT is kept")
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8888"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(cfg.MaxUploadMB)<<20, cfg.MaxUploadBytes())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bitacora")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CHUNK_SIZE", "250")
	t.Setenv("INGEST_WORKERS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := LoadConfig()

	assert.Equal(t, "postgres://localhost/bitacora", cfg.DatabaseURL)
	assert.Equal(t, 250, cfg.ChunkSize)
	assert.Equal(t, 2, cfg.IngestWorkers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{ChunkSize: 0, IngestWorkers: 1, IngestBatchSize: 1, MaxUploadMB: 1}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "CHUNK_SIZE")
	assert.NotContains(t, err.Error(), "MAX_UPLOAD_MB")
}

func TestValidateUploadLimit(t *testing.T) {
	for _, mb := range []int{0, -5} {
		cfg := &Config{
			DatabaseURL: "postgres://localhost/bitacora", JWTSecret: "s",
			ChunkSize: 1, IngestWorkers: 1, IngestBatchSize: 1, MaxUploadMB: mb,
		}
		err := cfg.Validate()
		require.Error(t, err, mb)
		assert.Contains(t, err.Error(), "MAX_UPLOAD_MB")
	}
}
