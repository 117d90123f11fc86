// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cycle runs one maintenance pass: sync content, check for
// code updates, signal the player, report liveness.
//
// # Description
//
// A cycle is the unit of work the timer, the daemon ticker, and the
// admin API all trigger. It serializes against concurrent cycles with
// a file lock, then runs its phases in order. The content sync and the
// code update are independent: a failed download must not block a
// security fix, and a broken update remote must not stop content from
// refreshing. Phase errors are collected into the Summary rather than
// aborting the pass.
//
// Content is only promoted when the downloaded archive differs from
// what is already live; the archive's SHA-256 is persisted between
// cycles for that comparison, so an unchanged source costs a download
// but never a player flicker.
//
// # Thread Safety
//
// A Runner is safe for concurrent use; concurrent RunCycle calls
// serialize on the cycle lock, with losers returning a lock-busy
// Summary immediately.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
	"github.com/doohlabs/signaged/services/agent/fetch"
	"github.com/doohlabs/signaged/services/agent/health"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/player"
	"github.com/doohlabs/signaged/services/agent/swap"
	"github.com/doohlabs/signaged/services/agent/update"
)

// versionStateFile persists the SHA-256 of the last promoted archive,
// relative to the base directory.
const versionStateFile = ".content_version"

// defaultLockTTL bounds lock staleness when no sync interval is
// configured; a configured interval takes precedence, so a lock older
// than one period is treated as abandoned.
const defaultLockTTL = time.Hour

// Phase outcome labels shared by the Summary and metrics.
const (
	OutcomeSynced    = "synced"
	OutcomeUnchanged = "unchanged"
	OutcomeApplied   = "applied"
	OutcomeUpToDate  = "up-to-date"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Summary reports what one cycle did, phase by phase.
type Summary struct {
	CycleID   string    `json:"cycle_id"`
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`

	// LockBusy is set when the cycle never ran because another one
	// held the lock.
	LockBusy bool   `json:"lock_busy,omitempty"`
	Holder   string `json:"holder,omitempty"`

	Sync   PhaseResult `json:"sync"`
	Update PhaseResult `json:"update"`

	// ContentVersion is the live archive SHA-256 after the cycle.
	ContentVersion string `json:"content_version,omitempty"`

	// SyncErr and UpdateErr carry the typed phase errors so callers can
	// classify them with errors.Is and errors.As. The JSON summary only
	// carries their strings.
	SyncErr   error `json:"-"`
	UpdateErr error `json:"-"`
}

// PhaseResult is one phase's outcome and error, if any.
type PhaseResult struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether any phase that ran ended in error.
func (s *Summary) Failed() bool {
	return s.Sync.Outcome == OutcomeFailed || s.Update.Outcome == OutcomeFailed
}

// Runner executes maintenance cycles for one device.
type Runner struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
	swapper *swap.Swapper
	updater update.Strategy
	player  *player.Player
	pinger  *health.Pinger
	logger  *logging.Logger

	// signal lets tests stub out the player interaction.
	signal func(ctx context.Context, playlistPath string) error

	mu       sync.Mutex
	lastSwap time.Time
}

// NewRunner assembles a Runner from the device configuration.
func NewRunner(cfg *config.Config, logger *logging.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.Default()
	}
	updater, err := update.New(cfg.Update, cfg.Paths, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring updater: %w", err)
	}
	p := player.New(cfg.Player, logger)
	r := &Runner{
		cfg: cfg,
		fetcher: fetch.New(fetch.Config{
			StagingDir: cfg.Paths.StagingDir,
			MediaDir:   cfg.Paths.MediaDir,
			RetryCount: cfg.Content.RetryCount,
			RetryDelay: cfg.Content.RetryDelay.Std(),
			Timeout:    cfg.Content.DownloadTimeout.Std(),
			Logger:     logger,
		}),
		swapper: swap.New(cfg.Paths.MediaDir, logger),
		updater: updater,
		player:  p,
		pinger:  health.New(cfg.Healthcheck, logger),
		logger:  logger,
	}
	r.signal = p.Signal
	return r, nil
}

// RunCycle runs one maintenance pass.
//
// The error return is reserved for the lock path: a busy lock surfaces
// as lock.ErrBusy (wrapped) with a Summary describing the holder.
// Phase failures are reported inside the Summary, because a cycle that
// synced content but failed its update probe still did useful work.
func (r *Runner) RunCycle(ctx context.Context, reason string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{
		CycleID:   uuid.NewString(),
		DeviceID:  r.cfg.DeviceID,
		StartedAt: start,
	}
	log := r.logger.With("cycle_id", sum.CycleID, "device_id", sum.DeviceID)

	cl := lock.New(r.cfg.Paths.LockDir, r.cfg.DeviceID, r.lockTTL())
	if err := cl.Acquire(reason); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			sum.LockBusy = true
			var busy *lock.BusyError
			if errors.As(err, &busy) && busy.Holder != nil {
				sum.Holder = busy.Holder.DeviceID
			}
			sum.Sync.Outcome = OutcomeSkipped
			sum.Update.Outcome = OutcomeSkipped
			sum.Duration = time.Since(start).String()
			recordLockBusy(ctx)
			log.Info("cycle skipped, lock busy", "holder", sum.Holder)
			return sum, err
		}
		return nil, fmt.Errorf("acquiring cycle lock: %w", err)
	}
	defer func() {
		if err := cl.Release(); err != nil {
			log.Warn("releasing cycle lock", "error", err)
		}
	}()

	log.Info("cycle started", "reason", reason)

	r.runSync(ctx, sum, log)
	r.runUpdate(ctx, sum, log)

	sum.Duration = time.Since(start).String()
	outcome := "ok"
	if sum.Failed() {
		outcome = "error"
		r.pinger.PingFailure(ctx, r.cfg.DeviceID)
	} else {
		r.pinger.Ping(ctx, r.cfg.DeviceID)
	}
	recordCycle(ctx, outcome, time.Since(start))

	log.Info("cycle finished",
		"sync", sum.Sync.Outcome,
		"update", sum.Update.Outcome,
		"duration", sum.Duration)
	return sum, nil
}

// runSync downloads content and promotes it when it changed.
func (r *Runner) runSync(ctx context.Context, sum *Summary, log *logging.Logger) {
	staged, err := r.fetcher.Fetch(ctx, r.cfg.Content.SourceURL)
	if err != nil {
		sum.Sync = PhaseResult{Outcome: OutcomeFailed, Error: err.Error()}
		sum.SyncErr = err
		sum.ContentVersion = r.loadContentVersion()
		recordSync(ctx, OutcomeFailed)
		log.Error("content sync failed", "error", err)
		return
	}
	recordSyncBytes(ctx, staged.Bytes)

	previous := r.loadContentVersion()
	if previous != "" && previous == staged.Version {
		// Same archive as last time: discard the staging copy and
		// leave the player alone.
		os.RemoveAll(staged.Dir)
		sum.Sync = PhaseResult{Outcome: OutcomeUnchanged}
		sum.ContentVersion = previous
		recordSync(ctx, OutcomeUnchanged)
		log.Info("content unchanged", "content_version", shortVersion(previous))
		return
	}

	if err := r.swapper.Swap(ctx, staged.Dir); err != nil {
		sum.Sync = PhaseResult{Outcome: OutcomeFailed, Error: err.Error()}
		sum.SyncErr = err
		sum.ContentVersion = previous
		recordSync(ctx, OutcomeFailed)
		log.Error("content swap failed", "error", err)
		return
	}
	r.mu.Lock()
	r.lastSwap = time.Now()
	r.mu.Unlock()
	if err := r.saveContentVersion(staged.Version); err != nil {
		log.Warn("persisting content version", "error", err)
	}
	sum.ContentVersion = staged.Version

	playlist := filepath.Join(r.cfg.Paths.MediaDir, fetch.LocalPlaylistName)
	if err := r.signal(ctx, playlist); err != nil {
		// Content is live on disk; the player will catch up on its
		// next start. Worth a warning, not a failed phase.
		log.Warn("signaling player failed", "error", err)
		sum.Sync = PhaseResult{Outcome: OutcomeSynced, Detail: "player signal failed"}
	} else {
		sum.Sync = PhaseResult{Outcome: OutcomeSynced}
	}
	recordSync(ctx, OutcomeSynced)
	log.Info("content synced", "content_version", shortVersion(staged.Version))
}

// runUpdate checks for and applies a code update.
func (r *Runner) runUpdate(ctx context.Context, sum *Summary, log *logging.Logger) {
	res, err := r.updater.Check(ctx)
	if err != nil {
		sum.Update = PhaseResult{Outcome: OutcomeFailed, Error: err.Error()}
		sum.UpdateErr = err
		recordUpdate(ctx, OutcomeFailed)
		log.Error("code update check failed",
			"strategy", r.updater.Name(), "error", err)
		return
	}

	switch res.Outcome {
	case update.Applied:
		sum.Update = PhaseResult{
			Outcome: OutcomeApplied,
			Detail:  fmt.Sprintf("%s -> %s", res.LocalVersion, res.RemoteVersion),
		}
		recordUpdate(ctx, OutcomeApplied)
		log.Info("code update applied",
			"local_version", res.LocalVersion,
			"remote_version", res.RemoteVersion)
		r.restartAfterUpdate(ctx, log)
	default:
		sum.Update = PhaseResult{Outcome: OutcomeUpToDate}
		recordUpdate(ctx, OutcomeUpToDate)
	}
}

// restartAfterUpdate bounces the configured units so the new code
// actually runs.
func (r *Runner) restartAfterUpdate(ctx context.Context, log *logging.Logger) {
	sc := player.NewSystemctl()
	for _, unit := range []string{r.cfg.Player.ServiceUnit, r.cfg.Player.TimerUnit} {
		if unit == "" {
			continue
		}
		if err := sc.Restart(ctx, unit); err != nil {
			log.Warn("restarting unit after update", "unit", unit, "error", err)
		}
	}
}

// ContentVersion returns the SHA-256 of the live archive, or "" when
// no content has been promoted yet.
func (r *Runner) ContentVersion() string {
	return r.loadContentVersion()
}

// LastSwapAt reports when this Runner last promoted content, so a
// filesystem watcher can tell the Runner's own swaps from external
// ones. Zero when no swap has happened in this process.
func (r *Runner) LastSwapAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSwap
}

// lockTTL derives the lock staleness bound from the sync interval.
func (r *Runner) lockTTL() time.Duration {
	if ttl := r.cfg.Content.SyncInterval.Std(); ttl > 0 {
		return ttl
	}
	return defaultLockTTL
}

// ContentVersionPath is where the promoted archive hash is persisted
// under the base directory.
func ContentVersionPath(baseDir string) string {
	return filepath.Join(baseDir, versionStateFile)
}

// LoadContentVersion reads the persisted archive hash. Absence means
// no content has ever been promoted.
func LoadContentVersion(baseDir string) string {
	data, err := os.ReadFile(ContentVersionPath(baseDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveContentVersion persists the promoted archive hash.
func SaveContentVersion(baseDir, version string) error {
	return os.WriteFile(ContentVersionPath(baseDir), []byte(version+"\n"), 0644)
}

func (r *Runner) loadContentVersion() string {
	return LoadContentVersion(r.cfg.Paths.BaseDir)
}

func (r *Runner) saveContentVersion(version string) error {
	return SaveContentVersion(r.cfg.Paths.BaseDir, version)
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
