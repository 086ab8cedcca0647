package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "America/Sao_Paulo", cfg.BusinessTimezone)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 5, cfg.BatchMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.OrderPaymentWindow)
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
port: "9000"
db:
  host: db.internal
  max_conns: 7
business_timezone: UTC
sweep_interval: 30s
batch_max_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("BATCH_MAX_ATTEMPTS", "8")
	t.Setenv("DB_MAX_CONNS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, int32(7), cfg.DB.MaxConns)
	assert.Equal(t, "UTC", cfg.BusinessTimezone)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 8, cfg.BatchMaxAttempts, "environment overrides the file")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown timezone", "BUSINESS_TIMEZONE", "Mars/Olympus"},
		{"unparsable interval", "SWEEP_INTERVAL", "soon"},
		{"zero attempts", "BATCH_MAX_ATTEMPTS", "0"},
		{"bad log format", "LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
