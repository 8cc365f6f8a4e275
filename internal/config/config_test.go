package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("MAX_UPLOADS", "")
	t.Setenv("KEY_PREFIX", "")

	cfg := Load()

	assert.Equal(t, DriverRedis, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.MaxUploads)
	assert.Equal(t, "uploads", cfg.KeyPrefix)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Badger")
	t.Setenv("MAX_UPLOADS", "12")
	t.Setenv("PUBLIC_BASE_URL", "https://img.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("APP_ENV", "production")

	cfg := Load()

	assert.Equal(t, DriverBadger, cfg.StoreDriver)
	assert.Equal(t, 12, cfg.MaxUploads)
	assert.Equal(t, "https://img.example.com", cfg.PublicBaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsProduction())
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("MAX_UPLOADS", "lots")

	assert.Equal(t, 5, Load().MaxUploads)
}
