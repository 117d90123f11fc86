// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/signaged/pkg/logging"
)

// buildZip assembles an in-memory ZIP from name -> content pairs.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestFetcher(t *testing.T, retries int) (*Fetcher, string, string) {
	t.Helper()
	base := t.TempDir()
	staging := filepath.Join(base, ".media_staging")
	media := filepath.Join(base, "media")
	f := New(Config{
		StagingDir: staging,
		MediaDir:   media,
		RetryCount: retries,
		RetryDelay: time.Millisecond,
		Logger:     logging.New(logging.Config{Quiet: true}),
	})
	f.sleep = func(time.Duration) {}
	return f, staging, media
}

func TestFetchSuccess(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"Signage Berlin/playlist.m3u": "#EXTM3U\n#EXTINF:-1,clip\nC:\\Users\\editor\\clips\\video1.mp4\n",
		"Signage Berlin/video1.mp4":   "fake video bytes",
		"Signage Berlin/.DS_Store":    "junk",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f, staging, media := newTestFetcher(t, 0)
	staged, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, staging, staged.Dir)
	assert.Len(t, staged.Version, 64, "content version should be hex sha256")

	// Top-level folder stripped, dotfiles skipped.
	assert.FileExists(t, filepath.Join(staging, "playlist.m3u"))
	assert.FileExists(t, filepath.Join(staging, "video1.mp4"))
	assert.NoFileExists(t, filepath.Join(staging, ".DS_Store"))

	// Rewritten playlist points entries into the live media dir.
	data, err := os.ReadFile(staged.Playlist)
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(media, "video1.mp4"))
	assert.Contains(t, string(data), "#EXTM3U")
}

func TestFetchRetryBound(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	const retries = 2
	f, staging, _ := newTestFetcher(t, retries)
	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork), "want ErrNetwork, got %v", err)
	assert.Equal(t, retries+1, attempts, "exactly RetryCount+1 total attempts")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, retries+1, netErr.Attempts)

	// No partial staging left behind.
	assert.NoDirExists(t, staging)
}

func TestFetchNoPlaylist(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"Folder/movie.mp4": "just a movie, no playlist",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f, staging, _ := newTestFetcher(t, 0)
	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPlaylist), "want ErrNoPlaylist, got %v", err)
	var verr *VerificationError
	assert.ErrorAs(t, err, &verr)
	assert.NoDirExists(t, staging)
}

func TestFetchEmptyPlaylistRejected(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"Folder/playlist.m3u": "#EXTM3U\n# only comments\n\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f, _, _ := newTestFetcher(t, 0)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrNoPlaylist), "want ErrNoPlaylist, got %v", err)
}

func TestFetchZipSlipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "../escape.m3u"})
	require.NoError(t, err)
	w.Write([]byte("video.mp4\n"))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f, _, _ := newTestFetcher(t, 0)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes staging directory")
}

func TestEnsureDirectDownload(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x.com/f?dl=0", "https://x.com/f?dl=1"},
		{"https://x.com/f?dl=1", "https://x.com/f?dl=1"},
		{"https://x.com/f?rlkey=abc", "https://x.com/f?rlkey=abc&dl=1"},
		{"https://x.com/f", "https://x.com/f?dl=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ensureDirectDownload(tt.in), "input %s", tt.in)
	}
}

func TestCommonTopLevel(t *testing.T) {
	t.Run("single folder is stripped", func(t *testing.T) {
		archive := buildZip(t, map[string]string{
			"Top/a.m3u":     "a.mp4\n",
			"Top/sub/b.mp4": "b",
		})
		zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
		require.NoError(t, err)
		assert.Equal(t, "Top/", commonTopLevel(zr.File))
	})

	t.Run("root-level file disables stripping", func(t *testing.T) {
		archive := buildZip(t, map[string]string{
			"a.m3u":     "a.mp4\n",
			"Top/b.mp4": "b",
		})
		zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
		require.NoError(t, err)
		assert.Equal(t, "", commonTopLevel(zr.File))
	})
}

func TestRewritePlaylistKeepsStructure(t *testing.T) {
	staging := t.TempDir()
	playlist := filepath.Join(staging, "show.m3u")
	content := strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:-1,first",
		"/home/editor/exports/first.mp4",
		"",
		"second.mp4",
	}, "\n")
	require.NoError(t, os.WriteFile(playlist, []byte(content), 0644))

	local, err := rewritePlaylist(playlist, staging, "/opt/signaged/media")
	require.NoError(t, err)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "/opt/signaged/media/first.mp4", lines[2])
	assert.Equal(t, "/opt/signaged/media/second.mp4", lines[4])
}
