// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/telemetry"
)

var cycleJSONOutput bool

// cycleCmd runs one full maintenance pass. This is what the systemd
// timer invokes.
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one maintenance cycle (sync content, check for updates)",
	Long: `Runs a full maintenance pass: acquires the cycle lock, syncs media
content from the configured source, checks for a code update, signals
the player on changes, and pings the heartbeat endpoint.

A concurrent cycle holding the lock makes this a benign no-op with a
distinct exit code, so overlapping timer firings are harmless.

Examples:
  signagectl cycle           # as run by the maintenance timer
  signagectl cycle --json    # machine-readable summary`,
	RunE: runCycleCommand,
}

func init() {
	cycleCmd.Flags().BoolVar(&cycleJSONOutput, "json", false, "print the cycle summary as JSON")
	rootCmd.AddCommand(cycleCmd)
}

func runCycleCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	shutdown, err := telemetry.Init(ctx, telemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(ctx)

	runner, err := cycle.NewRunner(cfg, logger)
	if err != nil {
		return err
	}

	sum, err := runner.RunCycle(ctx, "timer")
	if err != nil && !errors.Is(err, lock.ErrBusy) {
		return err
	}
	printSummary(sum, cycleJSONOutput)
	if errors.Is(err, lock.ErrBusy) {
		return err
	}
	if sum.Failed() {
		return summaryError(sum)
	}
	return nil
}

// printSummary writes a cycle summary to stdout, as JSON or a short
// human line per phase.
func printSummary(sum *cycle.Summary, asJSON bool) {
	if sum == nil {
		return
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(sum)
		return
	}
	if sum.LockBusy {
		fmt.Printf("cycle skipped: lock held by %s\n", sum.Holder)
		return
	}
	fmt.Printf("sync: %s", sum.Sync.Outcome)
	if sum.Sync.Error != "" {
		fmt.Printf(" (%s)", sum.Sync.Error)
	}
	fmt.Println()
	fmt.Printf("update: %s", sum.Update.Outcome)
	if sum.Update.Detail != "" {
		fmt.Printf(" (%s)", sum.Update.Detail)
	}
	if sum.Update.Error != "" {
		fmt.Printf(" (%s)", sum.Update.Error)
	}
	fmt.Println()
	fmt.Printf("duration: %s\n", sum.Duration)
}

// summaryError surfaces the first phase error, wrapped so the exit
// code mapping still sees its type.
func summaryError(sum *cycle.Summary) error {
	switch {
	case sum.SyncErr != nil:
		return fmt.Errorf("sync failed: %w", sum.SyncErr)
	case sum.UpdateErr != nil:
		return fmt.Errorf("update failed: %w", sum.UpdateErr)
	case sum.Sync.Error != "":
		return fmt.Errorf("sync failed: %s", sum.Sync.Error)
	case sum.Update.Error != "":
		return fmt.Errorf("update failed: %s", sum.Update.Error)
	}
	return fmt.Errorf("cycle failed")
}

func telemetryConfig() telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = buildVersion
	tc.DeviceID = cfg.DeviceID
	if cfg.Telemetry.MetricExporter != "" {
		tc.MetricExporter = cfg.Telemetry.MetricExporter
	}
	return tc
}
