package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medforge/portal/internal/logger"
	"github.com/medforge/portal/internal/surface"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000", cfg.APIURL)
	assert.Equal(t, surface.External, cfg.Surface)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.PollMaxFailures)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(0), cfg.RankingInFlight)
	assert.Equal(t, 50.0, cfg.UpstreamRPS)
	assert.Equal(t, 100, cfg.UpstreamBurst)
	assert.Equal(t, logger.FormatConsole, cfg.LogFormat)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_API_URL", "https://api.example.test/")
	t.Setenv("PORTAL_SURFACE", "internal")
	t.Setenv("PORTAL_POLL_INTERVAL", "500ms")
	t.Setenv("PORTAL_POLL_MAX_FAILURES", "2")
	t.Setenv("PORTAL_RANKING_MAX_INFLIGHT", "4")
	t.Setenv("PORTAL_LOG_FORMAT", "json")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.APIURL)
	assert.Equal(t, surface.Internal, cfg.Surface)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2, cfg.PollMaxFailures)
	assert.Equal(t, int64(4), cfg.RankingInFlight)
	assert.Equal(t, logger.FormatJSON, cfg.LogFormat)
}

func TestDomainFallback(t *testing.T) {
	t.Setenv("PORTAL_DOMAIN", "example.com")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "https://api.medforge.example.com", cfg.APIURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown surface", "PORTAL_SURFACE", "staging"},
		{"relative api url", "PORTAL_API_URL", "/api"},
		{"zero interval", "PORTAL_POLL_INTERVAL", "0s"},
		{"negative inflight", "PORTAL_RANKING_MAX_INFLIGHT", "-1"},
		{"unknown log format", "PORTAL_LOG_FORMAT", "xml"},
		{"zero upstream rate", "PORTAL_UPSTREAM_RPS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromViper(viper.New())
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORTAL_LISTEN_ADDR=:9090\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PORTAL_LISTEN_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
