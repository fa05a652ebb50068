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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mysql:
  dsn: "root@tcp(db:3306)/x"
providers:
  tts:
    base_url: "http://tts"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.PollInterval())
	assert.Equal(t, 120, cfg.Poller.MaxAttempts)
	assert.Equal(t, "http://tts", cfg.Providers.TTS.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Providers.TTS.Timeout())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
poller:
  interval_sec: 8
providers:
  music:
    base_url: "http://music"
`)
	t.Setenv("SCENEFORGE_POLLER_INTERVAL_SEC", "2")
	t.Setenv("SCENEFORGE_PROVIDERS_MUSIC_BASE_URL", "http://music-override")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, "http://music-override", cfg.Providers.Music.BaseURL)
}

func TestValidateReportsMissingProviders(t *testing.T) {
	path := writeConfig(t, `
providers:
  tts:
    base_url: "http://tts"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.music.base_url")
	assert.NotContains(t, err.Error(), "providers.tts.base_url")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
