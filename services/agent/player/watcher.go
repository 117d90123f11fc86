// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package player

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doohlabs/signaged/pkg/logging"
)

// watchDebounce coalesces the burst of filesystem events a content
// swap produces into one reload.
const watchDebounce = 2 * time.Second

// Watcher reloads the player when the live media directory is
// replaced.
//
// A content swap renames the staging directory over the media
// directory, which surfaces as create/rename events on the parent.
// The watcher observes the parent directory, debounces the burst, and
// invokes the callback once per swap.
type Watcher struct {
	mediaDir string
	onChange func(ctx context.Context)
	logger   *logging.Logger
}

// NewWatcher creates a Watcher for mediaDir. onChange runs after each
// observed replacement.
func NewWatcher(mediaDir string, onChange func(ctx context.Context), logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{mediaDir: mediaDir, onChange: onChange, logger: logger}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	// Watch the parent: the media directory itself disappears and
	// reappears during a swap, which would drop a watch on it.
	parent := filepath.Dir(w.mediaDir)
	if err := fw.Add(parent); err != nil {
		return fmt.Errorf("watching %s: %w", parent, err)
	}
	w.logger.Info("watching for content swaps", "media_dir", w.mediaDir)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.mediaDir {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("media directory replaced, signaling player")
			w.onChange(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}
