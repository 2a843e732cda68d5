package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/tmp/exports",
		"poll_interval": "250ms",
		"silence_window": "90s",
		"max_url_hops": 3,
		"headless": true
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/exports", cfg.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval.Std())
	assert.Equal(t, 90*time.Second, cfg.SilenceWindow.Std())
	assert.Equal(t, 3, cfg.MaxURLHops)
	assert.True(t, cfg.Headless)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config JSON")
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{DataDir: "/custom", MaxURLHops: 9}
	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, "/custom", merged.DataDir)
	assert.Equal(t, 9, merged.MaxURLHops)
	assert.Equal(t, Defaults().StorePath, merged.StorePath)
	assert.Equal(t, Defaults().SilenceWindow, merged.SilenceWindow)
	assert.Equal(t, Defaults().StaleBatchLimit, merged.StaleBatchLimit)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())

	cfg.MaxURLHops = -1
	assert.ErrorContains(t, cfg.Validate(), "max_url_hops")

	cfg = Defaults()
	cfg.JWTSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "long-enough-secret-value"
	assert.NoError(t, cfg.Validate())
}
