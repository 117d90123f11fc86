// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVLCBaseURL is where VLC's HTTP interface listens when started
// with the stock kiosk flags.
const DefaultVLCBaseURL = "http://127.0.0.1:8080"

// vlcRequestTimeout bounds one control request. The interface answers
// locally, so anything slow means VLC is wedged and the caller should
// fall back to a restart.
const vlcRequestTimeout = 5 * time.Second

// VLCClient talks to VLC's built-in HTTP interface.
//
// VLC authenticates with HTTP basic auth using an empty username and
// the --http-password value.
type VLCClient struct {
	baseURL  string
	password string
	client   *http.Client
}

// NewVLCClient creates a client for the VLC HTTP interface. An empty
// baseURL selects DefaultVLCBaseURL.
func NewVLCClient(baseURL, password string) *VLCClient {
	if baseURL == "" {
		baseURL = DefaultVLCBaseURL
	}
	return &VLCClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		client:   &http.Client{Timeout: vlcRequestTimeout},
	}
}

// Reload replaces VLC's in-player playlist with playlistPath and starts
// playback: pl_empty, in_enqueue, pl_play.
func (c *VLCClient) Reload(ctx context.Context, playlistPath string) error {
	if err := c.command(ctx, "pl_empty", ""); err != nil {
		return fmt.Errorf("clearing playlist: %w", err)
	}
	if err := c.command(ctx, "in_enqueue", playlistPath); err != nil {
		return fmt.Errorf("enqueueing %s: %w", playlistPath, err)
	}
	if err := c.command(ctx, "pl_play", ""); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	return nil
}

// Alive reports whether the HTTP interface is answering.
func (c *VLCClient) Alive(ctx context.Context) bool {
	return c.command(ctx, "", "") == nil
}

// command issues one status.xml request with the given command and
// optional input argument.
func (c *VLCClient) command(ctx context.Context, command, input string) error {
	u := c.baseURL + "/requests/status.xml"
	q := url.Values{}
	if command != "" {
		q.Set("command", command)
	}
	if input != "" {
		q.Set("input", input)
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth("", c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vlc returned %s", resp.Status)
	}
	return nil
}
