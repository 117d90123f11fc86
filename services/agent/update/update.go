// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package update keeps the device's agent code current.
//
// # Description
//
// Two interchangeable strategies poll a remote for a newer revision of
// the agent itself and apply it in place:
//
//   - http: compares a version marker embedded in a remote file against
//     the local copy and, when they differ, re-downloads the configured
//     file set.
//   - git: fetches the remote branch and hard-resets the local checkout
//     onto it, refusing to touch a dirty working tree.
//
// Both strategies converge on the same Result so the cycle runner and
// CLI treat them uniformly. Version strings are compared for equality;
// any difference triggers an update, which makes rollbacks a plain
// remote-side revert.
//
// # Thread Safety
//
// Strategies are safe for concurrent use, but applying two updates to
// the same CodeDir at once is not meaningful. The cycle lock serializes
// them in practice.
package update

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// Outcome classifies the result of one update check.
type Outcome int

const (
	// UpToDate means the local and remote versions already match.
	UpToDate Outcome = iota

	// Applied means new code was installed. The caller should restart
	// the affected services.
	Applied
)

func (o Outcome) String() string {
	switch o {
	case UpToDate:
		return "up-to-date"
	case Applied:
		return "applied"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes what an update check found and did.
type Result struct {
	Outcome       Outcome
	LocalVersion  string
	RemoteVersion string
}

// Strategy checks for and applies code updates.
type Strategy interface {
	// Check compares local state against the remote and applies the
	// update when they differ.
	Check(ctx context.Context) (*Result, error)

	// Name identifies the strategy in logs and status output.
	Name() string
}

// New selects and constructs the configured strategy.
func New(cfg config.Update, paths config.Paths, logger *logging.Logger) (Strategy, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.Strategy {
	case "git":
		return newGitStrategy(cfg, paths.CodeDir, logger)
	case "http":
		return newHTTPStrategy(cfg, paths.CodeDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown update strategy %q", cfg.Strategy)
	}
}

// logVersionOrder notes when the remote looks older than the local
// version. The update is applied regardless; equality is the contract
// and a remote-side revert is a legitimate rollback.
func logVersionOrder(logger *logging.Logger, local, remote string) {
	lv, rv := canonicalSemver(local), canonicalSemver(remote)
	if lv == "" || rv == "" {
		return
	}
	if semver.Compare(rv, lv) < 0 {
		logger.Warn("remote version is older than local, applying anyway",
			"local_version", local, "remote_version", remote)
	}
}

func canonicalSemver(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
