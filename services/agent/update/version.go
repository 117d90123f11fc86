// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package update

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// versionPattern matches a version marker embedded in a source or
// config file, e.g. `Version = "2.4.1"`.
var versionPattern = regexp.MustCompile(`(?i)version\s*[:=]\s*"?([0-9]+\.[0-9]+(?:\.[0-9]+)?[0-9A-Za-z.+-]*)"?`)

// extractVersion pulls a version string out of file content.
//
// A bare marker file (the whole content is the version) is accepted
// first; otherwise the first `Version = "..."` style assignment wins.
func extractVersion(content []byte) (string, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed != "" && !strings.ContainsAny(trimmed, "\n=:") {
		return trimmed, nil
	}
	m := versionPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return "", fmt.Errorf("no version marker found")
	}
	return m[1], nil
}

// localVersion reads the version marker from a file on disk. A missing
// file is not an error: a fresh device has no local version yet and
// every remote version counts as new.
func localVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading local version file: %w", err)
	}
	v, err := extractVersion(data)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}
