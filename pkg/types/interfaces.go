package types

import "time"

// MetricsRecorder receives pool and cache events. internal/metrics
// provides the Prometheus implementation.
type MetricsRecorder interface {
	RecordLookup(hit bool)
	RecordBuild(duration time.Duration, bytes int64, err error)
	RecordEviction(reason EvictionReason)
	RecordFill(duration time.Duration, channels int)
	SetPoolSize(entries int, bytes int64)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) RecordLookup(bool)                       {}
func (NopMetrics) RecordBuild(time.Duration, int64, error) {}
func (NopMetrics) RecordEviction(EvictionReason)           {}
func (NopMetrics) RecordFill(time.Duration, int)           {}
func (NopMetrics) SetPoolSize(int, int64)                  {}
