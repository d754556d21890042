// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package space

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for store operations.
var meter = otel.Meter("aleutian.space")

// Metrics for store operations.
var (
	spaceInserts metric.Int64Counter
	spaceReads   metric.Int64Counter
	spaceTakes   metric.Int64Counter
	spaceClears  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		spaceInserts, err = meter.Int64Counter(
			"space_inserts_total",
			metric.WithDescription("Total number of entries inserted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spaceReads, err = meter.Int64Counter(
			"space_reads_total",
			metric.WithDescription("Total number of successful non-destructive reads"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spaceTakes, err = meter.Int64Counter(
			"space_takes_total",
			metric.WithDescription("Total number of successful destructive takes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spaceClears, err = meter.Int64Counter(
			"space_clears_total",
			metric.WithDescription("Total number of full clears"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordInsert(n int) {
	if err := initMetrics(); err != nil {
		return
	}
	spaceInserts.Add(context.Background(), int64(n))
}

func recordRead() {
	if err := initMetrics(); err != nil {
		return
	}
	spaceReads.Add(context.Background(), 1)
}

func recordTake() {
	if err := initMetrics(); err != nil {
		return
	}
	spaceTakes.Add(context.Background(), 1)
}

func recordClear() {
	if err := initMetrics(); err != nil {
		return
	}
	spaceClears.Add(context.Background(), 1)
}
