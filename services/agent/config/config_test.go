// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

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
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
content:
  source_url: https://example.com/folder.zip
update:
  remote_ref: https://raw.example.com/deploy/main
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Content.RetryCount)
	assert.Equal(t, 5*time.Second, cfg.Content.RetryDelay.Std())
	assert.Equal(t, 30*time.Minute, cfg.Content.SyncInterval.Std())
	assert.Equal(t, "http", cfg.Update.Strategy)
	assert.Equal(t, "/opt/signaged/media", cfg.Paths.MediaDir)
	assert.Equal(t, "/opt/signaged/.media_staging", cfg.Paths.StagingDir)
	assert.Equal(t, "/opt/signaged/.locks", cfg.Paths.LockDir)

	host, _ := os.Hostname()
	assert.Equal(t, host, cfg.DeviceID, "device id should fall back to hostname")
}

func TestLoadDurations(t *testing.T) {
	path := writeConfig(t, `
content:
  source_url: https://example.com/folder.zip
  retry_delay: 90s
  sync_interval: 15m
update:
  remote_ref: main
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Content.RetryDelay.Std())
	assert.Equal(t, 15*time.Minute, cfg.Content.SyncInterval.Std())
}

func TestLoadBareSecondsDuration(t *testing.T) {
	// Legacy configs carried integer seconds (RETRY_DELAY=1800).
	path := writeConfig(t, `
content:
  source_url: https://example.com/folder.zip
  retry_delay: 1800
update:
  remote_ref: main
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Content.RetryDelay.Std())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
device_id: from-file
content:
  source_url: https://example.com/folder.zip
update:
  remote_ref: main
`)

	t.Setenv("DEVICE_ID", "berlin-04")
	t.Setenv("CONTENT_SOURCE_URL", "https://example.com/other.zip")
	t.Setenv("RETRY_COUNT", "5")
	t.Setenv("RETRY_DELAY", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "berlin-04", cfg.DeviceID)
	assert.Equal(t, "https://example.com/other.zip", cfg.Content.SourceURL)
	assert.Equal(t, 5, cfg.Content.RetryCount)
	assert.Equal(t, 2*time.Minute, cfg.Content.RetryDelay.Std())
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing source_url fails", func(t *testing.T) {
		path := writeConfig(t, `
update:
  remote_ref: main
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("unknown update strategy fails", func(t *testing.T) {
		path := writeConfig(t, `
content:
  source_url: https://example.com/folder.zip
update:
  strategy: rsync
  remote_ref: main
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := writeConfig(t, "content: [not: a map")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadMissingFileWithEnv(t *testing.T) {
	t.Setenv("CONTENT_SOURCE_URL", "https://example.com/folder.zip")
	t.Setenv("REMOTE_CODE_REF", "https://raw.example.com/deploy/main")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/folder.zip", cfg.Content.SourceURL)
}

func TestExampleYAMLParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, ExampleYAML(), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Update.Strategy)
	assert.NotEmpty(t, cfg.Update.Files)
}
