// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides configuration loading for the signage agent.
//
// Configuration is read from a YAML file (default /etc/signaged/config.yaml),
// then overridden by environment variables so a systemd EnvironmentFile or
// an operator shell can adjust a single device without editing the file.
// The merged result is validated before use; an agent never starts with a
// config it cannot act on.
//
// Thread Safety:
//
//	Load returns a fresh Config on every call. The returned struct is
//	read-only by convention; callers must not mutate it after Start.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps the config file read (1MB). Prevents memory
// issues if the path points at something that is not a config file.
const MaxConfigFileSize = 1024 * 1024

// DefaultPath is where the installer places the device configuration.
const DefaultPath = "/etc/signaged/config.yaml"

//go:embed config.example.yaml
var exampleYAML []byte

// ExampleYAML returns the canonical example configuration shipped with
// the agent. The install command writes it when no config exists yet.
func ExampleYAML() []byte {
	out := make([]byte, len(exampleYAML))
	copy(out, exampleYAML)
	return out
}

// Duration wraps time.Duration so YAML values like "30m" or "5s"
// round-trip through gopkg.in/yaml.v3.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string or an integer second count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Paths locates the directories the agent owns on disk.
type Paths struct {
	// BaseDir is the agent's working root. Media, staging, and the
	// cycle lock live underneath it unless overridden.
	BaseDir string `yaml:"base_dir"`

	// MediaDir is the live media directory read by the player.
	// Replaced only by an atomic swap, never mutated in place.
	MediaDir string `yaml:"media_dir"`

	// StagingDir holds an in-progress download. Discarded on failure,
	// renamed over MediaDir on success.
	StagingDir string `yaml:"staging_dir"`

	// LockDir holds the cycle lock file and its info sidecar.
	LockDir string `yaml:"lock_dir"`

	// CodeDir is the directory replaced by the code updater.
	CodeDir string `yaml:"code_dir"`
}

// Content configures the media sync (Content Fetcher) behavior.
type Content struct {
	// SourceURL is the cloud folder archive URL (Dropbox shared
	// folder link; dl=1 is appended automatically).
	SourceURL string `yaml:"source_url" validate:"required,url"`

	// RetryCount is the number of additional download attempts after
	// the first failure. Intra-cycle knob; distinct from SyncInterval.
	RetryCount int `yaml:"retry_count" validate:"gte=0,lte=10"`

	// RetryDelay is the fixed pause between download attempts.
	RetryDelay Duration `yaml:"retry_delay"`

	// DownloadTimeout bounds a single archive download.
	DownloadTimeout Duration `yaml:"download_timeout"`

	// SyncInterval is the daemon-mode period between cycles. Also the
	// staleness TTL for the cycle lock: a lock older than one period
	// is treated as abandoned.
	SyncInterval Duration `yaml:"sync_interval"`
}

// UpdateFile maps one remote code file onto its local target.
type UpdateFile struct {
	Remote     string `yaml:"remote" validate:"required"`
	Local      string `yaml:"local" validate:"required"`
	Executable bool   `yaml:"executable"`
}

// Update configures the code updater. Exactly one strategy is active
// per deployment, selected by Strategy.
type Update struct {
	// Strategy selects version-string polling over raw HTTP ("http")
	// or fetch-and-hard-reset against a git remote ("git").
	Strategy string `yaml:"strategy" validate:"oneof=http git"`

	// RemoteRef is the raw-content base URL for the http strategy, or
	// the remote branch name for the git strategy.
	RemoteRef string `yaml:"remote_ref" validate:"required"`

	// VersionSource is the remote file whose version marker is
	// compared against the local one (http strategy).
	VersionSource string `yaml:"version_source"`

	// Files is the full set replaced as a unit (http strategy).
	Files []UpdateFile `yaml:"files" validate:"dive"`

	// Token authenticates against a private repository. Optional.
	Token string `yaml:"token"`

	// CheckTimeout bounds the remote version probe and each file
	// download.
	CheckTimeout Duration `yaml:"check_timeout"`
}

// Player configures the collaboration with the media player and its
// process supervisor.
type Player struct {
	// ServiceUnit is the systemd unit that keeps the player alive.
	ServiceUnit string `yaml:"service_unit"`

	// TimerUnit is the systemd timer driving periodic maintenance.
	TimerUnit string `yaml:"timer_unit"`

	// HTTPBaseURL is the VLC HTTP interface address used to reload
	// the playlist without a restart.
	HTTPBaseURL string `yaml:"http_base_url"`

	// HTTPPassword is the VLC HTTP interface password (user is empty).
	HTTPPassword string `yaml:"http_password"`

	// VLCPath is the player binary for the play command.
	VLCPath string `yaml:"vlc_path"`
}

// Healthcheck configures the heartbeat pinger.
type Healthcheck struct {
	// BaseURL is the ping endpoint root.
	BaseURL string `yaml:"base_url"`

	// DefaultCheckID is used when the device has no entry in Checks.
	DefaultCheckID string `yaml:"default_check_id"`

	// Checks maps device IDs to their check IDs.
	Checks map[string]string `yaml:"checks"`
}

// Telemetry configures the metrics exporter.
type Telemetry struct {
	// MetricExporter is prometheus, stdout, or none.
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
}

// Log configures the agent logger.
type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// API configures the daemon-mode admin listener.
type API struct {
	// Listen is the bind address; empty disables the admin API.
	Listen string `yaml:"listen"`
}

// Config is the merged device configuration.
type Config struct {
	// DeviceID identifies this device in logs, heartbeats, and the
	// lock sidecar. Falls back to the hostname when unset.
	DeviceID string `yaml:"device_id"`

	Paths       Paths       `yaml:"paths"`
	Content     Content     `yaml:"content"`
	Update      Update      `yaml:"update"`
	Player      Player      `yaml:"player"`
	Healthcheck Healthcheck `yaml:"healthcheck"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Log         Log         `yaml:"log"`
	API         API         `yaml:"api"`
}

var validate = validator.New()

// Load reads, merges, and validates the configuration at path.
//
// Order of precedence, lowest first: built-in defaults, the YAML file,
// environment variables. A missing file is not an error when env vars
// supply the required values; a malformed file always is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultPath
	}

	data, err := readCapped(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Env-only operation is allowed; validation decides below.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDerived(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readCapped reads a file refusing anything over MaxConfigFileSize.
func readCapped(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}
	return os.ReadFile(path)
}

// defaults returns the built-in configuration baseline.
func defaults() *Config {
	return &Config{
		Paths: Paths{
			BaseDir: "/opt/signaged",
		},
		Content: Content{
			RetryCount:      2,
			RetryDelay:      Duration(5 * time.Second),
			DownloadTimeout: Duration(5 * time.Minute),
			SyncInterval:    Duration(30 * time.Minute),
		},
		Update: Update{
			Strategy:     "http",
			CheckTimeout: Duration(30 * time.Second),
		},
		Player: Player{
			ServiceUnit:  "signage-player.service",
			TimerUnit:    "signage-maintenance.timer",
			HTTPBaseURL:  "http://localhost:8080",
			HTTPPassword: "vlc",
			VLCPath:      "/usr/bin/vlc",
		},
		Healthcheck: Healthcheck{
			BaseURL: "https://hc-ping.com",
		},
		Telemetry: Telemetry{
			MetricExporter: "none",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// applyEnv overlays recognized environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("CONTENT_SOURCE_URL"); v != "" {
		cfg.Content.SourceURL = v
	}
	if v := os.Getenv("REMOTE_CODE_REF"); v != "" {
		cfg.Update.RemoteRef = v
	}
	if v := os.Getenv("UPDATE_TOKEN"); v != "" {
		cfg.Update.Token = v
	}
	if v := os.Getenv("RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Content.RetryCount = n
		}
	}
	if v := os.Getenv("RETRY_DELAY"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Content.RetryDelay = Duration(time.Duration(secs) * time.Second)
		} else if d, err := time.ParseDuration(v); err == nil {
			cfg.Content.RetryDelay = Duration(d)
		}
	}
}

// applyDerived fills path and identity fields that depend on others.
func applyDerived(cfg *Config) {
	if cfg.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceID = host
		}
	}
	base := cfg.Paths.BaseDir
	if cfg.Paths.MediaDir == "" {
		cfg.Paths.MediaDir = filepath.Join(base, "media")
	}
	if cfg.Paths.StagingDir == "" {
		cfg.Paths.StagingDir = filepath.Join(base, ".media_staging")
	}
	if cfg.Paths.LockDir == "" {
		cfg.Paths.LockDir = filepath.Join(base, ".locks")
	}
	if cfg.Paths.CodeDir == "" {
		cfg.Paths.CodeDir = base
	}
	if cfg.Update.VersionSource == "" && len(cfg.Update.Files) > 0 {
		cfg.Update.VersionSource = cfg.Update.Files[0].Remote
	}
}
