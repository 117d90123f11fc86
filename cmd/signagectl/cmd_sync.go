// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/fetch"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/player"
	"github.com/doohlabs/signaged/services/agent/swap"
)

var syncSkipSignal bool

// syncCmd syncs content only, without the update check. Useful when
// provisioning a device or debugging a content problem, because its
// exit code distinguishes network failures from broken archives.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync media content from the remote source",
	Long: `Downloads the content archive, verifies it contains a playable
playlist, and atomically promotes it to the live media directory.

Exit codes distinguish failure classes:
  2  network failure after all retries
  3  archive has no playable playlist
  5  promotion (swap) failed
  6  another cycle holds the lock

Examples:
  signagectl sync
  signagectl sync --no-signal   # do not touch the running player`,
	RunE: runSyncCommand,
}

func init() {
	syncCmd.Flags().BoolVar(&syncSkipSignal, "no-signal", false, "skip signaling the player after the swap")
	rootCmd.AddCommand(syncCmd)
}

func runSyncCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lockTTL := cfg.Content.SyncInterval.Std()
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}
	cl := lock.New(cfg.Paths.LockDir, cfg.DeviceID, lockTTL)
	if err := cl.Acquire("manual sync"); err != nil {
		return err
	}
	defer cl.Release()

	fetcher := fetch.New(fetch.Config{
		StagingDir: cfg.Paths.StagingDir,
		MediaDir:   cfg.Paths.MediaDir,
		RetryCount: cfg.Content.RetryCount,
		RetryDelay: cfg.Content.RetryDelay.Std(),
		Timeout:    cfg.Content.DownloadTimeout.Std(),
		Logger:     logger,
	})
	staged, err := fetcher.Fetch(ctx, cfg.Content.SourceURL)
	if err != nil {
		return err
	}

	if err := swap.New(cfg.Paths.MediaDir, logger).Swap(ctx, staged.Dir); err != nil {
		return err
	}
	// Record what is now live so the next cycle recognizes an unchanged
	// archive instead of re-swapping it.
	if err := cycle.SaveContentVersion(cfg.Paths.BaseDir, staged.Version); err != nil {
		logger.Warn("persisting content version", "error", err)
	}
	fmt.Printf("content synced (version %.12s)\n", staged.Version)

	if syncSkipSignal {
		return nil
	}
	playlist := filepath.Join(cfg.Paths.MediaDir, fetch.LocalPlaylistName)
	if err := player.New(cfg.Player, logger).Signal(ctx, playlist); err != nil {
		// Content is live; the player catches up on its next start.
		logger.Warn("signaling player failed", "error", err)
	}
	return nil
}
