// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package player

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// systemctlTimeout bounds one systemctl invocation. Restarting a unit
// that hangs in ExecStop can otherwise stall a maintenance cycle.
const systemctlTimeout = 30 * time.Second

// Systemctl wraps the systemctl command line for unit control.
type Systemctl struct {
	timeout time.Duration

	// bin is swapped out by tests.
	bin string
}

// NewSystemctl creates a Systemctl with the default timeout.
func NewSystemctl() *Systemctl {
	return &Systemctl{timeout: systemctlTimeout, bin: "systemctl"}
}

// Restart restarts the named unit.
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	return s.run(ctx, "restart", unit)
}

// Start starts the named unit.
func (s *Systemctl) Start(ctx context.Context, unit string) error {
	return s.run(ctx, "start", unit)
}

// Enable enables the named unit so it survives a reboot.
func (s *Systemctl) Enable(ctx context.Context, unit string) error {
	return s.run(ctx, "enable", unit)
}

// DaemonReload reloads unit files after an install.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	return s.run(ctx, "daemon-reload")
}

// IsActive reports whether the unit is currently active.
func (s *Systemctl) IsActive(ctx context.Context, unit string) bool {
	return s.run(ctx, "is-active", "--quiet", unit) == nil
}

func (s *Systemctl) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("systemctl %s: timeout after %v", args[0], s.timeout)
		}
		return fmt.Errorf("systemctl %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
