// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitNilContext(t *testing.T) {
	//nolint:staticcheck // deliberately nil
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInitNoneExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "signaged",
		MetricExporter: "none",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{
		ServiceName:    "signaged",
		MetricExporter: "graphite",
	})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitPrometheusExposesHandler(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "signaged",
		DeviceID:       "test-device",
		MetricExporter: "prometheus",
	})
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.NotNil(t, MetricsHandler())
}

func TestDefaultConfigRespectsEnv(t *testing.T) {
	t.Setenv("OTEL_METRICS_EXPORTER", "stdout")
	assert.Equal(t, "stdout", DefaultConfig().MetricExporter)
}
