// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"bare marker", "2.4.1\n", "2.4.1", false},
		{"assignment", `package main

const Version = "1.7.0"
`, "1.7.0", false},
		{"colon style", "version: 3.0.2", "3.0.2", false},
		{"no marker", "nothing to see here", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractVersion([]byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalVersionMissingFile(t *testing.T) {
	v, err := localVersion(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, v, "fresh device has no local version")
}

func newHTTPServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	}))
}

func httpConfig(remoteRef string, files ...config.UpdateFile) config.Update {
	return config.Update{
		Strategy:      "http",
		RemoteRef:     remoteRef,
		VersionSource: "agent.py",
		Files:         files,
	}
}

func TestHTTPCheckUpToDate(t *testing.T) {
	srv := newHTTPServer(t, map[string]string{
		"/agent.py": `Version = "2.0.0"` + "\n",
	})
	defer srv.Close()

	codeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(codeDir, "agent.py"),
		[]byte(`Version = "2.0.0"`), 0644))

	cfg := httpConfig(srv.URL, config.UpdateFile{Remote: "agent.py", Local: "agent.py"})
	s := newHTTPStrategy(cfg, codeDir, quietLogger())

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome)
	assert.Equal(t, "2.0.0", res.LocalVersion)
	assert.Equal(t, "2.0.0", res.RemoteVersion)
}

func TestHTTPCheckApplies(t *testing.T) {
	srv := newHTTPServer(t, map[string]string{
		"/agent.py": `Version = "2.1.0"` + "\n",
		"/run.sh":   "#!/bin/sh\nexec agent\n",
	})
	defer srv.Close()

	codeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(codeDir, "agent.py"),
		[]byte(`Version = "2.0.0"`), 0644))

	cfg := httpConfig(srv.URL,
		config.UpdateFile{Remote: "agent.py", Local: "agent.py"},
		config.UpdateFile{Remote: "run.sh", Local: "run.sh", Executable: true},
	)
	s := newHTTPStrategy(cfg, codeDir, quietLogger())

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Outcome)

	data, err := os.ReadFile(filepath.Join(codeDir, "agent.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "2.1.0")

	info, err := os.Stat(filepath.Join(codeDir, "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111, "executable bit set")

	// Re-check is a no-op now.
	res, err = s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome)
}

func TestHTTPFailedDownloadLeavesCodeUntouched(t *testing.T) {
	srv := newHTTPServer(t, map[string]string{
		"/agent.py": `Version = "9.9.9"` + "\n",
		// missing.sh is not served: one of the two downloads fails.
	})
	defer srv.Close()

	codeDir := t.TempDir()
	original := []byte(`Version = "1.0.0"`)
	require.NoError(t, os.WriteFile(filepath.Join(codeDir, "agent.py"), original, 0644))

	cfg := httpConfig(srv.URL,
		config.UpdateFile{Remote: "agent.py", Local: "agent.py"},
		config.UpdateFile{Remote: "missing.sh", Local: "missing.sh"},
	)
	s := newHTTPStrategy(cfg, codeDir, quietLogger())

	_, err := s.Check(context.Background())
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(codeDir, "agent.py"))
	require.NoError(t, err)
	assert.Equal(t, original, data, "running code not replaced")
	assert.NoFileExists(t, filepath.Join(codeDir, "agent.py"+stagedSuffix))
	assert.NoFileExists(t, filepath.Join(codeDir, "missing.sh"+stagedSuffix))
}

func TestHTTPRequestShape(t *testing.T) {
	var gotCacheControl, gotAuth string
	var gotBuster bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl = r.Header.Get("Cache-Control")
		gotAuth = r.Header.Get("Authorization")
		gotBuster = r.URL.Query().Get("cb") != ""
		w.Write([]byte("1.0.0"))
	}))
	defer srv.Close()

	cfg := httpConfig(srv.URL)
	cfg.Token = "sekrit"
	s := newHTTPStrategy(cfg, t.TempDir(), quietLogger())

	_, err := s.fetchRemote(context.Background(), "agent.py")
	require.NoError(t, err)
	assert.Equal(t, "no-cache", gotCacheControl)
	assert.Equal(t, "token sekrit", gotAuth)
	assert.True(t, gotBuster, "cache buster appended")
}

func TestParsePorcelain(t *testing.T) {
	out := " M services/agent.py\n?? notes.txt\nD  old.sh"
	assert.Equal(t, []string{"services/agent.py", "notes.txt", "old.sh"}, parsePorcelain(out))
	assert.Nil(t, parsePorcelain(""))
}

func TestDirtyTreeError(t *testing.T) {
	err := error(&DirtyTreeError{Files: []string{"a.py", "b.sh"}})
	assert.True(t, errors.Is(err, ErrDirtyTree))
	assert.Contains(t, err.Error(), "a.py")
}

func TestNewSelectsStrategy(t *testing.T) {
	paths := config.Paths{CodeDir: "/opt/signaged/code"}

	s, err := New(config.Update{Strategy: "http", RemoteRef: "https://x"}, paths, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "http", s.Name())

	s, err = New(config.Update{Strategy: "git", RemoteRef: "main"}, paths, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "git", s.Name())

	_, err = New(config.Update{Strategy: "ftp"}, paths, quietLogger())
	assert.Error(t, err)
}

func TestGitClientRequiresAbsolutePath(t *testing.T) {
	_, err := newGitClient("relative/path", 0)
	assert.Error(t, err)
}

func TestCanonicalSemver(t *testing.T) {
	assert.Equal(t, "v1.2.3", canonicalSemver("1.2.3"))
	assert.Equal(t, "v2.0.0", canonicalSemver("v2.0.0"))
	assert.Empty(t, canonicalSemver("not-a-version"))
}
