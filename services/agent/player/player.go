// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package player drives the on-device media player.
//
// # Description
//
// The player is VLC running under systemd in kiosk mode, looping the
// local playlist. After a content swap the agent has to make it pick up
// the new files; the cheap path is VLC's HTTP interface (empty the
// in-player playlist, enqueue the new one, play), and the reliable
// fallback is restarting the systemd unit. Signal tries them in that
// order.
//
// # Thread Safety
//
// Player and its collaborators are safe for concurrent use; each call
// is independent and state lives in VLC or systemd.
package player

import (
	"context"
	"fmt"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// Player signals the media player after a content change.
type Player struct {
	vlc       *VLCClient
	systemctl *Systemctl
	unit      string
	logger    *logging.Logger
}

// New creates a Player from the player section of the device config.
func New(cfg config.Player, logger *logging.Logger) *Player {
	if logger == nil {
		logger = logging.Default()
	}
	return &Player{
		vlc:       NewVLCClient(cfg.HTTPBaseURL, cfg.HTTPPassword),
		systemctl: NewSystemctl(),
		unit:      cfg.ServiceUnit,
		logger:    logger,
	}
}

// Signal makes the running player pick up the playlist at
// playlistPath.
//
// The VLC HTTP interface is tried first because it swaps content
// without a visible restart. When that fails (interface disabled, VLC
// not yet up) the systemd unit is restarted instead. An error is
// returned only when both paths fail; the new content is already live
// on disk either way and the next player start will pick it up.
func (p *Player) Signal(ctx context.Context, playlistPath string) error {
	if err := p.vlc.Reload(ctx, playlistPath); err == nil {
		p.logger.Info("player reloaded over http", "playlist", playlistPath)
		return nil
	} else {
		p.logger.Debug("vlc http reload failed, falling back to unit restart",
			"error", err)
	}

	if p.unit == "" {
		return fmt.Errorf("vlc http reload failed and no player service unit configured")
	}
	if err := p.systemctl.Restart(ctx, p.unit); err != nil {
		return fmt.Errorf("restarting player unit %s: %w", p.unit, err)
	}
	p.logger.Info("player unit restarted", "unit", p.unit)
	return nil
}
