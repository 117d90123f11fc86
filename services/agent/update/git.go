// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package update

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// ErrDirtyTree marks an update refused because the local checkout has
// uncommitted changes. Hard-resetting over them would silently destroy
// whatever a field technician edited on the device.
var ErrDirtyTree = errors.New("working tree has local modifications")

// DirtyTreeError lists the modified paths that blocked the update.
type DirtyTreeError struct {
	Files []string
}

func (e *DirtyTreeError) Error() string {
	return fmt.Sprintf("working tree has %d local modifications: %s",
		len(e.Files), strings.Join(e.Files, ", "))
}

func (e *DirtyTreeError) Unwrap() error { return ErrDirtyTree }

// gitStrategy updates the code directory by fetching the remote branch
// and hard-resetting onto it.
type gitStrategy struct {
	git    *gitClient
	branch string
	logger *logging.Logger
}

func newGitStrategy(cfg config.Update, codeDir string, logger *logging.Logger) (*gitStrategy, error) {
	timeout := cfg.CheckTimeout.Std()
	git, err := newGitClient(codeDir, timeout)
	if err != nil {
		return nil, err
	}
	return &gitStrategy{
		git:    git,
		branch: cfg.RemoteRef,
		logger: logger,
	}, nil
}

func (s *gitStrategy) Name() string { return "git" }

// Check fetches origin and resets the checkout onto origin/<branch>.
//
// The reset is refused when `git status --porcelain` reports local
// modifications; the dirty tree is surfaced as a *DirtyTreeError and
// nothing is touched. Commit SHAs before and after the reset stand in
// for version strings in the Result.
func (s *gitStrategy) Check(ctx context.Context) (*Result, error) {
	dirty, err := s.git.status(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking working tree: %w", err)
	}
	if len(dirty) > 0 {
		return nil, &DirtyTreeError{Files: dirty}
	}

	before, err := s.git.revParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("reading local revision: %w", err)
	}

	if err := s.git.fetch(ctx, "origin", s.branch); err != nil {
		return nil, fmt.Errorf("fetching origin/%s: %w", s.branch, err)
	}

	remoteRef := "origin/" + s.branch
	remote, err := s.git.revParse(ctx, remoteRef)
	if err != nil {
		return nil, fmt.Errorf("reading remote revision: %w", err)
	}

	res := &Result{LocalVersion: shortSHA(before), RemoteVersion: shortSHA(remote)}
	if before == remote {
		res.Outcome = UpToDate
		return res, nil
	}

	s.logger.Info("code update available",
		"local_rev", res.LocalVersion, "remote_rev", res.RemoteVersion,
		"branch", s.branch)

	if err := s.git.resetHard(ctx, remoteRef); err != nil {
		return nil, fmt.Errorf("resetting onto %s: %w", remoteRef, err)
	}

	res.Outcome = Applied
	s.logger.Info("code update applied", "revision", res.RemoteVersion)
	return res, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// gitClient wraps the git command line with a fixed working directory
// and per-operation timeout.
type gitClient struct {
	repoPath string
	timeout  time.Duration
}

func newGitClient(repoPath string, timeout time.Duration) (*gitClient, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("code directory must be absolute: %s", repoPath)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &gitClient{repoPath: repoPath, timeout: timeout}, nil
}

// run executes a git command and returns stdout.
func (g *gitClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// status returns the paths reported by `git status --porcelain`.
func (g *gitClient) status(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

// parsePorcelain extracts paths from `git status --porcelain` output.
func parsePorcelain(out string) []string {
	if out == "" {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		// Porcelain lines are "XY path"; keep just the path.
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files
}

func (g *gitClient) fetch(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "fetch", remote, branch)
	return err
}

func (g *gitClient) revParse(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "rev-parse", ref)
}

func (g *gitClient) resetHard(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "reset", "--hard", ref)
	return err
}
