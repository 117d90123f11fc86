// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the daemon's admin surface: health, status, an
// on-demand sync trigger, and Prometheus metrics.
//
// The listener binds to localhost by default and carries no
// authentication; anything that can reach it can already systemctl the
// device.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/cycle"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/telemetry"
)

// CycleTrigger runs one maintenance cycle. Implemented by
// *cycle.Runner.
type CycleTrigger interface {
	RunCycle(ctx context.Context, reason string) (*cycle.Summary, error)
	ContentVersion() string
}

// Server is the admin HTTP server run by daemon mode.
type Server struct {
	engine   *gin.Engine
	runner   CycleTrigger
	deviceID string
	version  string
	started  time.Time
	logger   *logging.Logger

	mu   sync.RWMutex
	last *cycle.Summary
}

// New creates the admin server. version is the agent build version
// reported in status output.
func New(runner CycleTrigger, deviceID, version string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		runner:   runner,
		deviceID: deviceID,
		version:  version,
		started:  time.Now(),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/v1/status", s.handleStatus)
	s.engine.POST("/v1/sync", s.handleSync)

	if h := telemetry.MetricsHandler(); h != nil {
		s.engine.GET("/metrics", gin.WrapH(h))
	}
}

// Handler returns the underlying HTTP handler, for embedding in an
// http.Server and for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("admin api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// RecordSummary stores a cycle result for status reporting, regardless
// of which trigger ran it.
func (s *Server) RecordSummary(sum *cycle.Summary) {
	if sum == nil {
		return
	}
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"device_id":       s.deviceID,
		"agent_version":   s.version,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"content_version": s.runner.ContentVersion(),
		"last_cycle":      last,
	})
}

// handleSync triggers a maintenance cycle inline. A cycle already in
// flight answers 409 with the holder rather than queueing.
func (s *Server) handleSync(c *gin.Context) {
	sum, err := s.runner.RunCycle(c.Request.Context(), "api")
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "cycle already running",
				"summary": sum,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.RecordSummary(sum)

	status := http.StatusOK
	if sum.Failed() {
		// The cycle ran but a phase failed; the summary carries the
		// details.
		status = http.StatusBadGateway
	}
	c.JSON(status, sum)
}
