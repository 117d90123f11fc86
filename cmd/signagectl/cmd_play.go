// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/services/agent/player"
)

// playCmd launches VLC in kiosk mode. The player service unit runs
// this and restarts it when it exits.
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run the media player in kiosk mode (foreground)",
	Long: `Launches VLC fullscreen on the local playlist, looping forever, with
the HTTP control interface enabled so maintenance cycles can reload
content without a visible restart.

Intended to run under the player systemd unit; exits with an error when
no content has been synced yet.`,
	RunE: runPlayCommand,
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func runPlayCommand(cmd *cobra.Command, args []string) error {
	return player.RunKiosk(cmd.Context(),
		cfg.Player.VLCPath, cfg.Paths.MediaDir, cfg.Player.HTTPPassword)
}
