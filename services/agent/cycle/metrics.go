// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for maintenance cycle metrics.
var meter = otel.Meter("signaged.cycle")

// Metric instruments for cycle operations.
var (
	cycleTotal    metric.Int64Counter
	cycleDuration metric.Float64Histogram
	syncTotal     metric.Int64Counter
	syncBytes     metric.Int64Histogram
	updateTotal   metric.Int64Counter
	lockBusyTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cycleTotal, err = meter.Int64Counter(
			"signage_cycle_total",
			metric.WithDescription("Total number of maintenance cycles"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cycleDuration, err = meter.Float64Histogram(
			"signage_cycle_duration_seconds",
			metric.WithDescription("Duration of maintenance cycles in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		syncTotal, err = meter.Int64Counter(
			"signage_sync_total",
			metric.WithDescription("Total number of content sync attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		syncBytes, err = meter.Int64Histogram(
			"signage_sync_archive_bytes",
			metric.WithDescription("Size of downloaded content archives in bytes"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		updateTotal, err = meter.Int64Counter(
			"signage_update_checks_total",
			metric.WithDescription("Total number of code update checks"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lockBusyTotal, err = meter.Int64Counter(
			"signage_lock_busy_total",
			metric.WithDescription("Cycles skipped because another cycle held the lock"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCycle records one completed cycle with its duration.
func recordCycle(ctx context.Context, outcome string, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	cycleTotal.Add(ctx, 1, attrs)
	cycleDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordSync records one content sync attempt.
func recordSync(ctx context.Context, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	syncTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// recordSyncBytes records the size of a downloaded archive.
func recordSyncBytes(ctx context.Context, bytes int64) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	syncBytes.Record(ctx, bytes)
}

// recordUpdate records one code update check.
func recordUpdate(ctx context.Context, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	updateTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// recordLockBusy records a cycle skipped on a busy lock.
func recordLockBusy(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	lockBusyTotal.Add(ctx, 1)
}
