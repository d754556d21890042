// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for cache operations.
var meter = otel.Meter("aleutian.space.cache")

// Metrics for cache operations.
var (
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheEvictions   metric.Int64Counter
	cacheExpirations metric.Int64Counter
	cacheStores      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"space_cache_hits_total",
			metric.WithDescription("Total number of handle cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"space_cache_misses_total",
			metric.WithDescription("Total number of handle cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"space_cache_evictions_total",
			metric.WithDescription("Total number of handles evicted for capacity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheExpirations, err = meter.Int64Counter(
			"space_cache_expirations_total",
			metric.WithDescription("Total number of handles dropped for age or epoch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheStores, err = meter.Int64Counter(
			"space_cache_stores_total",
			metric.WithDescription("Total number of handles stored"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit() {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(context.Background(), 1)
}

func recordMiss() {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(context.Background(), 1)
}

func recordEviction() {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(context.Background(), 1)
}

func recordExpiration() {
	if err := initMetrics(); err != nil {
		return
	}
	cacheExpirations.Add(context.Background(), 1)
}

func recordStore() {
	if err := initMetrics(); err != nil {
		return
	}
	cacheStores.Add(context.Background(), 1)
}
