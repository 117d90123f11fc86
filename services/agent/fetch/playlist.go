// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalPlaylistName is the rewritten playlist the player reads. Its
// entries are absolute paths inside the live media directory.
const LocalPlaylistName = "playlist_local.m3u"

// verifyPlaylist finds a playlist in the staged tree with at least one
// media entry. Returns *VerificationError when none qualifies.
func verifyPlaylist(stagingDir string) (string, error) {
	candidates, err := findPlaylists(stagingDir)
	if err != nil {
		return "", fmt.Errorf("scanning staging directory: %w", err)
	}
	if len(candidates) == 0 {
		return "", &VerificationError{Reason: "no .m3u playlist present"}
	}

	for _, playlist := range candidates {
		ok, err := hasMediaEntries(playlist)
		if err != nil {
			continue
		}
		if ok {
			return playlist, nil
		}
	}
	return "", &VerificationError{Reason: "playlists contain no media entries"}
}

// findPlaylists lists *.m3u files, root-level first, then nested.
func findPlaylists(dir string) ([]string, error) {
	var root, nested []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".m3u") {
			return nil
		}
		if filepath.Base(path) == LocalPlaylistName {
			return nil // never verify our own output
		}
		if filepath.Dir(path) == dir {
			root = append(root, path)
		} else {
			nested = append(nested, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(root)
	sort.Strings(nested)
	return append(root, nested...), nil
}

// hasMediaEntries reports whether the playlist has at least one
// non-comment, non-blank line.
func hasMediaEntries(playlist string) (bool, error) {
	data, err := os.ReadFile(playlist)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return true, nil
		}
	}
	return false, nil
}

// rewritePlaylist writes LocalPlaylistName next to the source playlist
// content, pointing every media entry at mediaDir by basename. The
// upstream playlist ships paths from the editor's machine; only the
// filenames are meaningful on the device.
func rewritePlaylist(playlist, stagingDir, mediaDir string) (string, error) {
	data, err := os.ReadFile(playlist)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out = append(out, line)
			continue
		}
		out = append(out, filepath.Join(mediaDir, filepath.Base(filepath.FromSlash(trimmed))))
	}

	local := filepath.Join(stagingDir, LocalPlaylistName)
	if err := os.WriteFile(local, []byte(strings.Join(out, "\n")), 0644); err != nil {
		return "", err
	}
	return local, nil
}
