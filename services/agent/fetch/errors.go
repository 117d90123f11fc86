// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"errors"
	"fmt"
)

// ErrNetwork tags transient download failures. Matched with errors.Is
// by callers deciding exit codes.
var ErrNetwork = errors.New("network failure")

// ErrNoPlaylist tags staged content with no usable playlist. Never
// retried within a cycle.
var ErrNoPlaylist = errors.New("no valid playlist in downloaded content")

// NetworkError reports a download that failed every attempt.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("download failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }

// VerificationError reports staged content that failed the playlist
// gate. The staging directory has already been discarded when this is
// returned; the live media directory is untouched.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("content verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error { return ErrNoPlaylist }
