// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doohlabs/signaged/services/agent/api"
	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/fetch"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/player"
	"github.com/doohlabs/signaged/services/agent/telemetry"
)

// daemonCmd runs the agent as a long-lived process: periodic cycles on
// a ticker, a media-directory watcher, and the admin API. The
// alternative deployment is the oneshot cycle command under a systemd
// timer; a device uses one or the other, not both.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the agent as a long-lived daemon",
	Long: `Runs maintenance cycles on the configured interval, watches the media
directory for swaps, and serves the admin API (status, on-demand sync,
metrics) when api.listen is configured.

Examples:
  signagectl daemon
  SIGNAGED_CONFIG=/etc/signaged/config.yaml signagectl daemon`,
	RunE: runDaemonCommand,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())

	runner, err := cycle.NewRunner(cfg, logger)
	if err != nil {
		return err
	}
	server := api.New(runner, cfg.DeviceID, buildVersion, logger)

	interval := cfg.Content.SyncInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	logger.Info("daemon starting",
		"device_id", cfg.DeviceID,
		"sync_interval", interval.String(),
		"api_listen", cfg.API.Listen)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runTicker(gctx, runner, server, interval)
	})

	if cfg.API.Listen != "" {
		g.Go(func() error {
			return server.Run(gctx, cfg.API.Listen)
		})
	}

	g.Go(func() error {
		w := player.NewWatcher(cfg.Paths.MediaDir, func(wctx context.Context) {
			// Swaps triggered by this process already signal the
			// player; this catches out-of-band replacements (manual
			// sync over SSH while the daemon runs).
			if !externalSwap(runner.LastSwapAt(), time.Now()) {
				logger.Debug("media change was this daemon's own swap, not re-signaling")
				return
			}
			playlist := filepath.Join(cfg.Paths.MediaDir, fetch.LocalPlaylistName)
			if err := player.New(cfg.Player, logger).Signal(wctx, playlist); err != nil {
				logger.Warn("signaling player after external swap", "error", err)
			}
		}, logger)
		return w.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("daemon stopped")
		return nil
	}
	return err
}

// ownSwapWindow brackets the watcher's debounce: a media-directory
// event this close to the Runner's own promotion is the daemon's swap,
// which already signaled the player.
const ownSwapWindow = 15 * time.Second

// externalSwap reports whether a watcher event at now was caused by
// something other than the Runner's most recent promotion.
func externalSwap(lastSwap, now time.Time) bool {
	return lastSwap.IsZero() || now.Sub(lastSwap) > ownSwapWindow
}

// runTicker runs a cycle immediately and then on every tick. Lock-busy
// skips are logged and ignored; overlap with a manual cycle is
// expected.
func runTicker(ctx context.Context, runner *cycle.Runner, server *api.Server, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sum, err := runner.RunCycle(ctx, "daemon")
		if err != nil && !errors.Is(err, lock.ErrBusy) {
			logger.Error("cycle failed", "error", err)
		}
		server.RecordSummary(sum)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
