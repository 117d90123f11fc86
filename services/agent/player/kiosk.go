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
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/doohlabs/signaged/services/agent/fetch"
)

// DefaultVLCPath is used when the config leaves the player binary
// unset.
const DefaultVLCPath = "/usr/bin/vlc"

// KioskArgs returns the VLC arguments for unattended signage playback:
// no window chrome, fullscreen, endless loop, HTTP interface enabled
// for reloads.
func KioskArgs(playlistPath, httpPassword string) []string {
	return []string{
		"--intf", "dummy",
		"--extraintf", "http",
		"--http-host", "127.0.0.1",
		"--http-port", "8080",
		"--http-password", httpPassword,
		"--fullscreen",
		"--loop",
		"--no-video-title-show",
		"--no-osd",
		"--quiet",
		playlistPath,
	}
}

// RunKiosk launches VLC in kiosk mode on the local playlist in
// mediaDir and blocks until it exits or ctx is cancelled.
func RunKiosk(ctx context.Context, vlcPath, mediaDir, httpPassword string) error {
	if vlcPath == "" {
		vlcPath = DefaultVLCPath
	}
	playlist, err := resolvePlaylist(mediaDir)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, vlcPath, KioskArgs(playlist, httpPassword)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("vlc exited: %w", err)
	}
	return nil
}

// resolvePlaylist picks the rewritten local playlist when present,
// falling back to any playlist in the media directory (content synced
// by an older agent).
func resolvePlaylist(mediaDir string) (string, error) {
	local := filepath.Join(mediaDir, fetch.LocalPlaylistName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	matches, _ := filepath.Glob(filepath.Join(mediaDir, "*.m3u"))
	if len(matches) > 0 {
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", fmt.Errorf("no playable content in %s", mediaDir)
}
