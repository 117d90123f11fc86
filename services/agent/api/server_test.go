// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/lock"
)

type fakeRunner struct {
	sum     *cycle.Summary
	err     error
	version string
	calls   int
}

func (f *fakeRunner) RunCycle(ctx context.Context, reason string) (*cycle.Summary, error) {
	f.calls++
	return f.sum, f.err
}

func (f *fakeRunner) ContentVersion() string { return f.version }

func newTestServer(runner *fakeRunner) *Server {
	return New(runner, "test-device", "1.2.3", logging.New(logging.Config{Quiet: true}))
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeRunner{}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{version: "abc123"}
	s := newTestServer(runner)
	s.RecordSummary(&cycle.Summary{CycleID: "c-1", Sync: cycle.PhaseResult{Outcome: cycle.OutcomeSynced}})

	rec := doRequest(t, s, http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test-device", body["device_id"])
	assert.Equal(t, "1.2.3", body["agent_version"])
	assert.Equal(t, "abc123", body["content_version"])
	last, ok := body["last_cycle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c-1", last["cycle_id"])
}

func TestSyncTriggersCycle(t *testing.T) {
	runner := &fakeRunner{sum: &cycle.Summary{
		CycleID: "c-2",
		Sync:    cycle.PhaseResult{Outcome: cycle.OutcomeSynced},
		Update:  cycle.PhaseResult{Outcome: cycle.OutcomeUpToDate},
	}}
	s := newTestServer(runner)

	rec := doRequest(t, s, http.MethodPost, "/v1/sync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)

	// The triggered cycle becomes the last one in status.
	rec = doRequest(t, s, http.MethodGet, "/v1/status")
	assert.Contains(t, rec.Body.String(), "c-2")
}

func TestSyncLockBusyAnswers409(t *testing.T) {
	runner := &fakeRunner{
		sum: &cycle.Summary{LockBusy: true, Holder: "other"},
		err: &lock.BusyError{},
	}
	rec := doRequest(t, newTestServer(runner), http.MethodPost, "/v1/sync")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestSyncPhaseFailureAnswers502(t *testing.T) {
	runner := &fakeRunner{sum: &cycle.Summary{
		Sync:   cycle.PhaseResult{Outcome: cycle.OutcomeFailed, Error: "download failed"},
		Update: cycle.PhaseResult{Outcome: cycle.OutcomeUpToDate},
	}}
	rec := doRequest(t, newTestServer(runner), http.MethodPost, "/v1/sync")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "download failed")
}
