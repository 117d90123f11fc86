// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetch implements the content fetcher: download the cloud
// folder archive, extract it into staging, and verify it before the
// swap is allowed to see it.
//
// # Description
//
// The cloud folder is a Dropbox shared link served as a ZIP. Dropbox
// requires cookie handling and a browser User-Agent, and only hands
// out the archive when dl=1 is present on the URL; the fetcher
// normalizes all of that. Download failures are retried a bounded
// number of times with a fixed delay. The staging directory is
// populated only on full success; every failure path discards it and
// removes the temporary archive.
//
// # Thread Safety
//
// A Fetcher is safe for concurrent use, but two concurrent Fetch calls
// against the same staging directory race; the cycle lock upstream
// prevents that.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/doohlabs/signaged/pkg/logging"
)

// DefaultDownloadTimeout bounds a single archive download. Large
// folders on slow device uplinks can legitimately take minutes.
const DefaultDownloadTimeout = 5 * time.Minute

// userAgent mirrors a desktop browser; Dropbox serves shared-folder
// archives only to browser-like clients.
const userAgent = "Mozilla/5.0 (X11; Linux armv7l) AppleWebKit/537.36"

// Staged describes a fully verified staging directory ready for swap.
type Staged struct {
	// Dir is the populated staging directory.
	Dir string

	// Version is the SHA-256 of the downloaded archive, hex encoded.
	// It is the device's ContentVersion marker: recorded only after a
	// successful swap, compared before the next one.
	Version string

	// Playlist is the path of the verified playlist inside Dir.
	Playlist string

	// Bytes is the size of the downloaded archive.
	Bytes int64
}

// Config configures a Fetcher.
type Config struct {
	// StagingDir is recreated empty at the start of every fetch.
	StagingDir string

	// MediaDir is the live directory the rewritten playlist points
	// into. Not touched by the fetcher; only its path is used.
	MediaDir string

	// RetryCount is the number of attempts after the first failure.
	RetryCount int

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration

	// Timeout bounds one download attempt. Zero means
	// DefaultDownloadTimeout.
	Timeout time.Duration

	// Logger defaults to logging.Default when nil.
	Logger *logging.Logger
}

// Fetcher downloads and stages signage content.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger

	// sleep is swapped out by tests to avoid real delays.
	sleep func(time.Duration)
}

// New creates a Fetcher with a cookie-aware HTTP client.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDownloadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		logger: cfg.Logger,
		sleep:  time.Sleep,
	}
}

// Fetch downloads sourceURL, extracts it into the staging directory,
// and verifies the result.
//
// On success the returned Staged owns the staging directory until the
// swap promotes or the caller discards it. On any failure the staging
// directory and the temporary archive are gone and the live media
// directory is untouched.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (*Staged, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, fmt.Errorf("content source URL is not configured")
	}
	sourceURL = ensureDirectDownload(sourceURL)

	if err := os.RemoveAll(f.cfg.StagingDir); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := os.MkdirAll(f.cfg.StagingDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	archivePath, version, err := f.downloadWithRetry(ctx, sourceURL)
	if err != nil {
		os.RemoveAll(f.cfg.StagingDir)
		return nil, err
	}
	// The archive is transient regardless of what happens next.
	defer os.Remove(archivePath)

	var archiveBytes int64
	if fi, err := os.Stat(archivePath); err == nil {
		archiveBytes = fi.Size()
	}

	if err := extractArchive(archivePath, f.cfg.StagingDir); err != nil {
		os.RemoveAll(f.cfg.StagingDir)
		return nil, fmt.Errorf("extracting archive: %w", err)
	}

	playlist, err := verifyPlaylist(f.cfg.StagingDir)
	if err != nil {
		os.RemoveAll(f.cfg.StagingDir)
		return nil, err
	}

	local, err := rewritePlaylist(playlist, f.cfg.StagingDir, f.cfg.MediaDir)
	if err != nil {
		os.RemoveAll(f.cfg.StagingDir)
		return nil, fmt.Errorf("writing local playlist: %w", err)
	}

	f.logger.Info("content staged",
		"staging_dir", f.cfg.StagingDir,
		"playlist", local,
		"content_version", version[:12])

	return &Staged{
		Dir:      f.cfg.StagingDir,
		Version:  version,
		Playlist: local,
		Bytes:    archiveBytes,
	}, nil
}

// downloadWithRetry fetches the archive to a temp file, hashing it on
// the way down. Returns the temp path and the hex SHA-256.
func (f *Fetcher) downloadWithRetry(ctx context.Context, sourceURL string) (string, string, error) {
	attempts := f.cfg.RetryCount + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		path, version, err := f.downloadOnce(ctx, sourceURL)
		if err == nil {
			return path, version, nil
		}
		lastErr = err

		f.logger.Warn("download attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err.Error())

		if attempt < attempts {
			f.sleep(f.cfg.RetryDelay)
		}
	}

	return "", "", &NetworkError{URL: sourceURL, Attempts: attempts, Err: lastErr}
}

// downloadOnce performs a single attempt. The temp file is removed on
// every error path.
func (f *Fetcher) downloadOnce(ctx context.Context, sourceURL string) (path string, version string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "signaged-content-*.zip")
	if err != nil {
		return "", "", fmt.Errorf("creating temp archive: %w", err)
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	hash := sha256.New()
	if _, err = io.Copy(io.MultiWriter(tmp, hash), resp.Body); err != nil {
		return "", "", fmt.Errorf("writing archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", "", fmt.Errorf("syncing archive: %w", err)
	}

	return tmp.Name(), hex.EncodeToString(hash.Sum(nil)), nil
}

// ensureDirectDownload forces dl=1 on Dropbox shared links so the
// folder is served as a ZIP instead of the web UI.
func ensureDirectDownload(url string) string {
	switch {
	case strings.Contains(url, "dl=0"):
		return strings.Replace(url, "dl=0", "dl=1", 1)
	case strings.Contains(url, "dl=1"):
		return url
	case strings.Contains(url, "?"):
		return url + "&dl=1"
	default:
		return url + "?dl=1"
	}
}
