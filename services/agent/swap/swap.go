// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package swap promotes a fully staged content directory into the live
// media directory.
//
// # Description
//
// The swap is the only moment the player-visible media directory
// changes, and it is built around two rename(2) calls: the live
// directory moves aside to <media>.old, the staging directory moves
// into its place, and only then is the old copy removed. Renames on
// the same filesystem are atomic, so the media directory is never
// observed half-written. If the second rename fails the old directory
// is moved back so the player keeps something to show.
//
// # Thread Safety
//
// A Swapper is not safe for concurrent use. Callers hold the cycle
// lock for the duration of a maintenance pass, which serializes swaps
// per device.
package swap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doohlabs/signaged/pkg/logging"
)

// oldSuffix is appended to the live directory name while it waits for
// removal.
const oldSuffix = ".old"

// SwapError reports a failed promotion. Restored tells the caller
// whether the previous live directory survived.
type SwapError struct {
	Stage    string
	Restored bool
	Err      error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap failed at %s (previous content restored=%t): %v", e.Stage, e.Restored, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// Swapper replaces the live media directory with staged content.
type Swapper struct {
	mediaDir string
	logger   *logging.Logger
}

// New creates a Swapper for the given live media directory.
func New(mediaDir string, logger *logging.Logger) *Swapper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Swapper{mediaDir: mediaDir, logger: logger}
}

// Swap promotes stagingDir to the live media directory.
//
// The staging directory is re-validated first: it must exist, be
// non-empty, and still contain a playable playlist. A stale or
// tampered staging directory never reaches the player.
func (s *Swapper) Swap(ctx context.Context, stagingDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.validateStaging(stagingDir); err != nil {
		return err
	}

	oldDir := s.mediaDir + oldSuffix

	// A leftover .old from an interrupted earlier swap would block the
	// rename below.
	if err := os.RemoveAll(oldDir); err != nil {
		return &SwapError{Stage: "clearing previous backup", Restored: true, Err: err}
	}

	liveExisted := true
	if err := os.Rename(s.mediaDir, oldDir); err != nil {
		if !os.IsNotExist(err) {
			return &SwapError{Stage: "moving live directory aside", Restored: true, Err: err}
		}
		// First sync on a fresh device: nothing live yet.
		liveExisted = false
	}

	if err := os.Rename(stagingDir, s.mediaDir); err != nil {
		restored := false
		if liveExisted {
			if rerr := os.Rename(oldDir, s.mediaDir); rerr != nil {
				s.logger.Error("failed to restore previous media directory",
					"media_dir", s.mediaDir, "error", rerr)
			} else {
				restored = true
			}
		}
		return &SwapError{Stage: "promoting staging directory", Restored: restored, Err: err}
	}

	if liveExisted {
		if err := os.RemoveAll(oldDir); err != nil {
			// Live content is already swapped; the stale copy only
			// wastes disk. Next swap clears it.
			s.logger.Warn("could not remove previous media directory",
				"old_dir", oldDir, "error", err)
		}
	}

	s.logger.Info("staged content promoted", "media_dir", s.mediaDir)
	return nil
}

// validateStaging guards the rename against an empty or playlist-less
// staging directory. The playlist may live in a subdirectory, and the
// rewritten playlist the fetcher leaves at the root counts too, so the
// search mirrors the fetcher's recursive walk.
func (s *Swapper) validateStaging(stagingDir string) error {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return &SwapError{Stage: "reading staging directory", Restored: true, Err: err}
	}
	if len(entries) == 0 {
		return &SwapError{Stage: "validating staging directory", Restored: true,
			Err: fmt.Errorf("staging directory %s is empty", stagingDir)}
	}
	hasPlaylist := false
	err = filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".m3u") {
			hasPlaylist = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return &SwapError{Stage: "reading staging directory", Restored: true, Err: err}
	}
	if !hasPlaylist {
		return &SwapError{Stage: "validating staging directory", Restored: true,
			Err: fmt.Errorf("staging directory %s has no playlist", stagingDir)}
	}
	return nil
}
