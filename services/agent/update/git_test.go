// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package update

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/signaged/services/agent/config"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@localhost",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@localhost",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newTestCheckout builds an origin repository with one commit and a
// clone of it, the shape a device's code directory has in the field.
func newTestCheckout(t *testing.T) (origin, checkout string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	base := t.TempDir()
	origin = filepath.Join(base, "origin")
	require.NoError(t, os.MkdirAll(origin, 0755))
	runGit(t, origin, "init")
	runGit(t, origin, "symbolic-ref", "HEAD", "refs/heads/main")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "agent.py"),
		[]byte("VERSION = \"1.0.0\"\n"), 0644))
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-m", "initial")

	checkout = filepath.Join(base, "code")
	runGit(t, base, "clone", origin, checkout)
	return origin, checkout
}

func TestGitCheckRefusesDirtyTree(t *testing.T) {
	origin, checkout := newTestCheckout(t)

	// A newer commit is waiting upstream.
	require.NoError(t, os.WriteFile(filepath.Join(origin, "agent.py"),
		[]byte("VERSION = \"1.1.0\"\n"), 0644))
	runGit(t, origin, "commit", "-am", "bump")

	// A technician edited the device copy by hand.
	localEdit := "VERSION = \"1.0.0\"\n# hotfix\n"
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "agent.py"),
		[]byte(localEdit), 0644))
	headBefore := runGit(t, checkout, "rev-parse", "HEAD")

	strat, err := newGitStrategy(config.Update{RemoteRef: "main"}, checkout, quietLogger())
	require.NoError(t, err)

	res, err := strat.Check(context.Background())
	assert.Nil(t, res)
	var derr *DirtyTreeError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, ErrDirtyTree)
	assert.Contains(t, derr.Files, "agent.py")

	// Nothing was touched: the edit survives and HEAD did not move.
	data, err := os.ReadFile(filepath.Join(checkout, "agent.py"))
	require.NoError(t, err)
	assert.Equal(t, localEdit, string(data))
	assert.Equal(t, headBefore, runGit(t, checkout, "rev-parse", "HEAD"))
}

func TestGitCheckAppliesRemoteCommit(t *testing.T) {
	origin, checkout := newTestCheckout(t)

	require.NoError(t, os.WriteFile(filepath.Join(origin, "agent.py"),
		[]byte("VERSION = \"1.1.0\"\n"), 0644))
	runGit(t, origin, "commit", "-am", "bump")

	strat, err := newGitStrategy(config.Update{RemoteRef: "main"}, checkout, quietLogger())
	require.NoError(t, err)

	res, err := strat.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Outcome)

	data, err := os.ReadFile(filepath.Join(checkout, "agent.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.1.0")

	// A second pass finds nothing new.
	res, err = strat.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome)
}
