// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/fetch"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/swap"
	"github.com/doohlabs/signaged/services/agent/update"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitFailure},
		{"network", &fetch.NetworkError{URL: "https://x", Attempts: 3, Err: errors.New("dial")}, exitNetwork},
		{"wrapped network", fmt.Errorf("sync: %w", fetch.ErrNetwork), exitNetwork},
		{"no playlist", &fetch.VerificationError{Reason: "no .m3u"}, exitNoPlaylist},
		{"dirty tree", &update.DirtyTreeError{Files: []string{"a"}}, exitDirtyTree},
		{"swap", &swap.SwapError{Stage: "promote", Err: errors.New("rename")}, exitSwap},
		{"lock busy", &lock.BusyError{}, exitLockBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestSummaryError(t *testing.T) {
	err := summaryError(&cycle.Summary{
		Sync: cycle.PhaseResult{Outcome: cycle.OutcomeFailed, Error: "download timed out"},
	})
	assert.Contains(t, err.Error(), "download timed out")

	err = summaryError(&cycle.Summary{
		Sync:   cycle.PhaseResult{Outcome: cycle.OutcomeSynced},
		Update: cycle.PhaseResult{Outcome: cycle.OutcomeFailed, Error: "update check failed"},
	})
	assert.Contains(t, err.Error(), "update check failed")
}

// A cycle's exit code must classify the phase failure the same way the
// standalone sync and update commands do.
func TestSummaryErrorKeepsFailureClass(t *testing.T) {
	tests := []struct {
		name string
		sum  *cycle.Summary
		want int
	}{
		{
			"network",
			&cycle.Summary{SyncErr: &fetch.NetworkError{URL: "https://x", Attempts: 3, Err: errors.New("dial")}},
			exitNetwork,
		},
		{
			"no playlist",
			&cycle.Summary{SyncErr: &fetch.VerificationError{Reason: "no .m3u"}},
			exitNoPlaylist,
		},
		{
			"swap",
			&cycle.Summary{SyncErr: &swap.SwapError{Stage: "promote", Err: errors.New("rename")}},
			exitSwap,
		},
		{
			"dirty tree",
			&cycle.Summary{UpdateErr: &update.DirtyTreeError{Files: []string{"agent.py"}}},
			exitDirtyTree,
		},
		{
			"untyped falls back to the string",
			&cycle.Summary{Sync: cycle.PhaseResult{Outcome: cycle.OutcomeFailed, Error: "boom"}},
			exitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(summaryError(tt.sum)))
		})
	}
}

func TestExternalSwap(t *testing.T) {
	now := time.Now()
	assert.True(t, externalSwap(time.Time{}, now), "no swap in this process yet")
	assert.True(t, externalSwap(now.Add(-time.Minute), now), "old swap does not suppress")
	assert.False(t, externalSwap(now.Add(-time.Second), now), "fresh swap is our own")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sync", "update", "cycle", "play", "daemon", "install", "version"} {
		assert.True(t, names[want], "command %s registered", want)
	}
}
