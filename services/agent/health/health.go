// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health reports cycle liveness to a healthchecks.io style
// dead-man's-switch service.
//
// A ping is a bare GET against the check's UUID; the service alerts
// when pings stop arriving. Pings are best-effort: a down monitoring
// endpoint must never fail a maintenance cycle.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// DefaultBaseURL is the hosted healthchecks.io ping endpoint.
const DefaultBaseURL = "https://hc-ping.com"

// pingTimeout bounds one ping so a slow monitoring endpoint cannot
// stall the cycle.
const pingTimeout = 10 * time.Second

// Pinger sends per-device liveness pings.
type Pinger struct {
	baseURL string
	checks  map[string]string
	defID   string
	client  *http.Client
	logger  *logging.Logger
}

// New creates a Pinger from the healthcheck section of the device
// config. A nil or empty config yields a disabled Pinger whose Ping is
// a no-op.
func New(cfg config.Healthcheck, logger *logging.Logger) *Pinger {
	if logger == nil {
		logger = logging.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Pinger{
		baseURL: strings.TrimRight(base, "/"),
		checks:  cfg.Checks,
		defID:   cfg.DefaultCheckID,
		client:  &http.Client{Timeout: pingTimeout},
		logger:  logger,
	}
}

// Enabled reports whether any check ID is configured.
func (p *Pinger) Enabled() bool {
	return p.defID != "" || len(p.checks) > 0
}

// Ping reports a successful cycle for deviceID. Failures are logged
// and swallowed.
func (p *Pinger) Ping(ctx context.Context, deviceID string) {
	p.ping(ctx, deviceID, "")
}

// PingFailure reports a failed cycle for deviceID, which flips the
// check to "down" immediately instead of waiting for the grace period.
func (p *Pinger) PingFailure(ctx context.Context, deviceID string) {
	p.ping(ctx, deviceID, "/fail")
}

func (p *Pinger) ping(ctx context.Context, deviceID, suffix string) {
	id := p.checkID(deviceID)
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s%s", p.baseURL, id, suffix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Warn("building healthcheck ping failed", "error", err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("healthcheck ping failed", "device_id", deviceID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("healthcheck ping rejected",
			"device_id", deviceID, "status", resp.Status)
		return
	}
	p.logger.Debug("healthcheck ping sent", "device_id", deviceID)
}

// checkID resolves the check for a device: an exact per-device entry
// wins, then the default.
func (p *Pinger) checkID(deviceID string) string {
	if id, ok := p.checks[deviceID]; ok {
		return id
	}
	return p.defID
}
