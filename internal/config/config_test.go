package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/dyxium/dia-core/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "127.0.0.1:9108", cfg.HTTP.Addr)
	assert.Equal(t, time.Hour, cfg.Bybit.CacheTTL)
	assert.False(t, cfg.Bybit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"DIA_HTTP_ADDR=0.0.0.0:9200\nALERT_EMAIL_TO=ops@example.com, risk@example.com\nBYBIT_INSTRUMENT_CACHE_TTL=90m\n"), 0o644))

	t.Cleanup(func() {
		os.Unsetenv("DIA_HTTP_ADDR")
		os.Unsetenv("ALERT_EMAIL_TO")
		os.Unsetenv("BYBIT_INSTRUMENT_CACHE_TTL")
	})
	require.NoError(t, LoadEnvFile(path))

	cfg := Load()
	assert.Equal(t, "0.0.0.0:9200", cfg.HTTP.Addr)
	assert.Equal(t, []string{"ops@example.com", "risk@example.com"}, cfg.Notifications.EmailTo)
	assert.Equal(t, 90*time.Minute, cfg.Bybit.CacheTTL)

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidateRequiresEmailRecipients(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.example.com")

	err := Load().Validate()
	require.Error(t, err)
	assert.True(t, rerrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "ALERT_EMAIL_TO")
}
