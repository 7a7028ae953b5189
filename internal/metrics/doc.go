/*
Package metrics exports channel cache activity to Prometheus.

# Overview

Collector implements types.MetricsRecorder, so a cache.Pool reports lookups,
builds, evictions, fills and occupancy to it directly:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Addr:      ":9464",
		Path:      "/metrics",
		Namespace: "exrcache",
	})
	if err != nil {
		return err
	}
	pool := cache.NewPool(3, cache.Options{Metrics: collector})

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

# Exported metrics

	exrcache_lookups_total{result}         hit / miss
	exrcache_builds_total{status}          success / error / canceled
	exrcache_build_duration_seconds        decode time per entry
	exrcache_entry_size_bytes              decoded size per entry
	exrcache_evictions_total{reason}       capacity / stale / invalidate / purge
	exrcache_fill_duration_seconds         FillFrameBuffer time
	exrcache_fill_channels_total           channels delivered from cache
	exrcache_pool_entries                  entries held
	exrcache_pool_bytes                    decoded bytes held
	exrcache_errors_total{operation,code}  errors by pkg/errors code

# Endpoints

Handler serves the metrics path, /health, and /debug/operations, a JSON
summary of build and fill counts and average durations since the last
ResetMetrics.

A disabled collector accepts every call and records nothing.
*/
package metrics
