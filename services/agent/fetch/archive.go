// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks a ZIP into destDir.
//
// Dropbox folder archives wrap everything in one top-level directory
// named after the folder; that prefix is stripped so the staged layout
// matches the live media layout. Dotfiles and resource-fork junk are
// skipped. Entry paths are confined to destDir.
func extractArchive(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	prefix := commonTopLevel(zr.File)

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		name := entry.Name
		if prefix != "" {
			name = strings.TrimPrefix(name, prefix)
		}
		name = strings.TrimPrefix(name, "/")
		if name == "" || hiddenPath(name) {
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(name))
		// Reject entries escaping the staging directory (zip slip).
		rel, err := filepath.Rel(destDir, dest)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive entry %q escapes staging directory", entry.Name)
		}

		if err := writeEntry(entry, dest); err != nil {
			return fmt.Errorf("extracting %s: %w", entry.Name, err)
		}
	}
	return nil
}

// writeEntry copies one archive entry to dest, creating parents.
func writeEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Sync()
}

// commonTopLevel returns the single shared top-level directory prefix
// (with trailing slash), or "" when entries live at the root or under
// multiple directories.
func commonTopLevel(files []*zip.File) string {
	prefix := ""
	for _, entry := range files {
		name := strings.TrimPrefix(entry.Name, "/")
		if name == "" {
			continue
		}
		idx := strings.Index(name, "/")
		if idx < 0 {
			return "" // a file at the root; nothing to strip
		}
		top := name[:idx+1]
		if prefix == "" {
			prefix = top
		} else if prefix != top {
			return ""
		}
	}
	return prefix
}

// hiddenPath reports whether any path segment is a dotfile.
func hiddenPath(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
