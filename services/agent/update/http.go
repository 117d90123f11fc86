// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// maxConcurrentDownloads bounds parallel file fetches during an apply.
const maxConcurrentDownloads = 4

// defaultCheckTimeout bounds one remote request when the config leaves
// it unset.
const defaultCheckTimeout = 30 * time.Second

// stagedSuffix marks a freshly downloaded file before it replaces the
// live one.
const stagedSuffix = ".new"

// httpStrategy polls a raw-content URL for a version marker and
// replaces the configured file set when it changes.
type httpStrategy struct {
	cfg     config.Update
	codeDir string
	client  *http.Client
	logger  *logging.Logger

	// now is swapped out by tests to pin the cache buster.
	now func() time.Time
}

func newHTTPStrategy(cfg config.Update, codeDir string, logger *logging.Logger) *httpStrategy {
	timeout := cfg.CheckTimeout.Std()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &httpStrategy{
		cfg:     cfg,
		codeDir: codeDir,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

func (s *httpStrategy) Name() string { return "http" }

// Check fetches the remote version marker and, when it differs from the
// local one, re-downloads every configured file.
//
// Files land next to their targets with a staged suffix and are renamed
// into place only after all downloads succeed, with the version-bearing
// file renamed last. A failure mid-download therefore leaves the
// running code untouched; a failure mid-rename leaves the local version
// marker at the old value, so the next cycle repeats the update.
func (s *httpStrategy) Check(ctx context.Context) (*Result, error) {
	remoteRaw, err := s.fetchRemote(ctx, s.cfg.VersionSource)
	if err != nil {
		return nil, fmt.Errorf("probing remote version: %w", err)
	}
	remote, err := extractVersion(remoteRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing remote %s: %w", s.cfg.VersionSource, err)
	}

	local, err := localVersion(s.localVersionPath())
	if err != nil {
		return nil, err
	}

	res := &Result{LocalVersion: local, RemoteVersion: remote}
	if local == remote {
		res.Outcome = UpToDate
		return res, nil
	}
	logVersionOrder(s.logger, local, remote)

	s.logger.Info("code update available",
		"local_version", local, "remote_version", remote,
		"files", len(s.cfg.Files))

	if err := s.apply(ctx, remote); err != nil {
		return nil, err
	}
	res.Outcome = Applied
	return res, nil
}

// localVersionPath is the local counterpart of VersionSource: the
// configured local path when VersionSource is one of the managed
// files, or a hidden marker in the code directory otherwise.
func (s *httpStrategy) localVersionPath() string {
	for _, f := range s.cfg.Files {
		if f.Remote == s.cfg.VersionSource {
			return s.localPath(f)
		}
	}
	return filepath.Join(s.codeDir, ".version")
}

func (s *httpStrategy) localPath(f config.UpdateFile) string {
	if filepath.IsAbs(f.Local) {
		return f.Local
	}
	return filepath.Join(s.codeDir, f.Local)
}

func (s *httpStrategy) apply(ctx context.Context, remote string) error {
	if len(s.cfg.Files) == 0 {
		return fmt.Errorf("update strategy http has no files configured")
	}
	if err := os.MkdirAll(s.codeDir, 0755); err != nil {
		return fmt.Errorf("creating code directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)
	for _, f := range s.cfg.Files {
		g.Go(func() error {
			return s.stageFile(gctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		s.discardStaged()
		return err
	}

	// Rename the version-bearing file last so an interrupted apply is
	// retried, not recorded as complete.
	versionPath := s.localVersionPath()
	var last *config.UpdateFile
	for i, f := range s.cfg.Files {
		if s.localPath(f) == versionPath {
			last = &s.cfg.Files[i]
			continue
		}
		if err := s.promoteFile(f); err != nil {
			return err
		}
	}
	if last != nil {
		if err := s.promoteFile(*last); err != nil {
			return err
		}
	} else {
		// VersionSource is not a managed file: record the applied
		// version in the hidden marker instead.
		if err := os.WriteFile(versionPath, []byte(remote+"\n"), 0644); err != nil {
			return fmt.Errorf("writing version marker: %w", err)
		}
	}

	s.logger.Info("code update applied", "code_dir", s.codeDir, "files", len(s.cfg.Files))
	return nil
}

// stageFile downloads one remote file to its staged path.
func (s *httpStrategy) stageFile(ctx context.Context, f config.UpdateFile) error {
	data, err := s.fetchRemote(ctx, f.Remote)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", f.Remote, err)
	}
	target := s.localPath(f)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", target, err)
	}
	mode := os.FileMode(0644)
	if f.Executable {
		mode = 0755
	}
	if err := os.WriteFile(target+stagedSuffix, data, mode); err != nil {
		return fmt.Errorf("staging %s: %w", target, err)
	}
	return nil
}

func (s *httpStrategy) promoteFile(f config.UpdateFile) error {
	target := s.localPath(f)
	if err := os.Rename(target+stagedSuffix, target); err != nil {
		return fmt.Errorf("installing %s: %w", target, err)
	}
	return nil
}

func (s *httpStrategy) discardStaged() {
	for _, f := range s.cfg.Files {
		os.Remove(s.localPath(f) + stagedSuffix)
	}
}

// fetchRemote downloads one file relative to RemoteRef, defeating
// intermediate caches with a throwaway query parameter and no-cache
// headers. Raw-content CDNs otherwise serve stale versions for minutes
// after a push.
func (s *httpStrategy) fetchRemote(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("remote file name is empty")
	}
	url := strings.TrimRight(s.cfg.RemoteRef, "/") + "/" + strings.TrimLeft(name, "/")
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url = fmt.Sprintf("%s%scb=%d", url, sep, s.now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s for %s", resp.Status, name)
	}
	return io.ReadAll(resp.Body)
}
