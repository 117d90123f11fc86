// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/update"
)

// updateCmd checks for and applies a code update, without syncing
// content.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and apply a code update",
	Long: `Compares the local code version against the configured remote and
applies the update when they differ.

The git strategy refuses to run over local modifications (exit code 4)
so a technician's on-device edits are never silently destroyed.`,
	RunE: runUpdateCommand,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cl := lock.New(cfg.Paths.LockDir, cfg.DeviceID, time.Hour)
	if err := cl.Acquire("manual update"); err != nil {
		return err
	}
	defer cl.Release()

	updater, err := update.New(cfg.Update, cfg.Paths, logger)
	if err != nil {
		return err
	}
	res, err := updater.Check(ctx)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case update.Applied:
		fmt.Printf("update applied: %s -> %s\n", res.LocalVersion, res.RemoteVersion)
		fmt.Println("restart the agent services to run the new code")
	default:
		fmt.Printf("up to date (version %s)\n", res.LocalVersion)
	}
	return nil
}
