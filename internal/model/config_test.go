package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSec)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, "INBOX", cfg.Sync.Folder)
	assert.Equal(t, 1, cfg.Sync.AccountID)
	assert.False(t, cfg.Sync.KeepProgressOnDisconnect)
	assert.Zero(t, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.Display.PageSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 993, cfg.Relay.IMAPPort)
	assert.True(t, cfg.Relay.TLS)
}

func TestLoadConfig_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://mail.example.com
sync:
  account_id: 4
  keep_progress_on_disconnect: true
  interval: 15m
relay:
  whitelist_domains: [github.com, amazon.es]
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://mail.example.com", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSec)
	assert.Equal(t, 4, cfg.Sync.AccountID)
	assert.True(t, cfg.Sync.KeepProgressOnDisconnect)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "INBOX", cfg.Sync.Folder)
	assert.Equal(t, []string{"github.com", "amazon.es"}, cfg.Relay.WhitelistDomains)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAILTRIAGE_API_BASE_URL", "http://backend:9000")
	t.Setenv("MAILTRIAGE_SYNC_FOLDER", "Archive")
	t.Setenv("MAILTRIAGE_SYNC_INTERVAL", "90s")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.API.BaseURL)
	assert.Equal(t, "Archive", cfg.Sync.Folder)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")

	require.NoError(t, os.WriteFile(path, []byte("sync:\n  interval: -1m\n"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.interval")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.Sync.AccountID = 9
	cfg.Sync.AutoClassify = true
	cfg.Display.PageSize = 120
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Sync.AccountID)
	assert.True(t, loaded.Sync.AutoClassify)
	assert.Equal(t, 120, loaded.Display.PageSize)
}

func TestRelayConfig_Address(t *testing.T) {
	assert.Equal(t, "imap.example.com:993", RelayConfig{IMAPHost: "imap.example.com", IMAPPort: 993}.Address())
}
