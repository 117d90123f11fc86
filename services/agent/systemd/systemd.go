// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package systemd carries the canonical unit files for the device and
// installs them. The install command compares what is on disk against
// these and rewrites units that drift.
package systemd

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/player"
)

//go:embed units/signage-player.service units/signage-maintenance.service units/signage-maintenance.timer units/signaged.service
var unitFiles embed.FS

// DefaultUnitDir is where unit files are installed.
const DefaultUnitDir = "/etc/systemd/system"

// UnitNames lists every unit this package manages, in install order.
var UnitNames = []string{
	"signage-player.service",
	"signage-maintenance.service",
	"signage-maintenance.timer",
	"signaged.service",
}

// Unit returns the canonical content of a managed unit file.
func Unit(name string) string {
	data, err := unitFiles.ReadFile("units/" + name)
	if err != nil {
		// Embedded at compile time; a read failure here is a build bug.
		panic("embedded unit " + name + " missing: " + err.Error())
	}
	return string(data)
}

// Installer writes unit files and enables them.
type Installer struct {
	unitDir   string
	systemctl *player.Systemctl
	logger    *logging.Logger
}

// NewInstaller creates an Installer. An empty unitDir selects
// DefaultUnitDir.
func NewInstaller(unitDir string, logger *logging.Logger) *Installer {
	if unitDir == "" {
		unitDir = DefaultUnitDir
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Installer{
		unitDir:   unitDir,
		systemctl: player.NewSystemctl(),
		logger:    logger,
	}
}

// Install writes every managed unit that is missing or has drifted,
// reloads systemd when anything changed, and enables the player unit
// and the maintenance timer.
//
// enable=false skips the systemctl calls, which keeps Install usable
// on build hosts without systemd.
func (i *Installer) Install(ctx context.Context, enable bool) error {
	changed := 0
	for _, name := range UnitNames {
		wrote, err := i.installUnit(name)
		if err != nil {
			return err
		}
		if wrote {
			changed++
		}
	}
	i.logger.Info("unit files installed", "dir", i.unitDir, "changed", changed)

	if !enable {
		return nil
	}
	if changed > 0 {
		if err := i.systemctl.DaemonReload(ctx); err != nil {
			return fmt.Errorf("reloading systemd: %w", err)
		}
	}
	for _, unit := range []string{"signage-player.service", "signage-maintenance.timer"} {
		if err := i.systemctl.Enable(ctx, unit); err != nil {
			return fmt.Errorf("enabling %s: %w", unit, err)
		}
	}
	return nil
}

// installUnit writes one unit when its on-disk content differs from
// the canonical one. Returns whether it wrote.
func (i *Installer) installUnit(name string) (bool, error) {
	want := Unit(name)
	path := filepath.Join(i.unitDir, name)

	current, err := os.ReadFile(path)
	if err == nil && string(current) == want {
		return false, nil
	}
	if err := os.MkdirAll(i.unitDir, 0755); err != nil {
		return false, fmt.Errorf("creating unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(want), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	i.logger.Info("unit file written", "unit", name)
	return true, nil
}
