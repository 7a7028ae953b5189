package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/types"
)

// Collector records pool and cache activity as Prometheus metrics. It
// implements types.MetricsRecorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	lookupCounter   *prometheus.CounterVec
	buildCounter    *prometheus.CounterVec
	buildDuration   prometheus.Histogram
	buildSize       prometheus.Histogram
	evictionCounter *prometheus.CounterVec
	fillDuration    prometheus.Histogram
	fillChannels    prometheus.Counter
	poolEntries     prometheus.Gauge
	poolBytes       prometheus.Gauge
	errorCounter    *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

var _ types.MetricsRecorder = (*Collector)(nil)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// DefaultConfig returns the configuration used for a nil config.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Addr:      ":9464",
		Path:      "/metrics",
		Namespace: "exrcache",
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the registry the metrics live in, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves Handler on the configured address until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.server = &http.Server{
		Addr:              c.config.Addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordLookup counts a FindCache call.
func (c *Collector) RecordLookup(hit bool) {
	if !c.config.Enabled {
		return
	}
	c.lookupCounter.With(prometheus.Labels{
		"result": map[bool]string{true: "hit", false: "miss"}[hit],
	}).Inc()
}

// RecordBuild records one entry build.
func (c *Collector) RecordBuild(duration time.Duration, bytes int64, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	switch {
	case errors.IsCanceled(err):
		status = "canceled"
	case err != nil:
		status = "error"
		c.errorCounter.With(prometheus.Labels{
			"operation": "build",
			"code":      classifyError(err),
		}).Inc()
	}
	c.buildCounter.With(prometheus.Labels{"status": status}).Inc()
	c.buildDuration.Observe(duration.Seconds())
	if bytes > 0 {
		c.buildSize.Observe(float64(bytes))
	}
	c.recordOperation("build", duration, bytes, err == nil)
}

// RecordEviction counts an entry leaving the pool.
func (c *Collector) RecordEviction(reason types.EvictionReason) {
	if !c.config.Enabled {
		return
	}
	c.evictionCounter.With(prometheus.Labels{"reason": string(reason)}).Inc()
}

// RecordFill records one FillFrameBuffer call.
func (c *Collector) RecordFill(duration time.Duration, channels int) {
	if !c.config.Enabled {
		return
	}
	c.fillDuration.Observe(duration.Seconds())
	c.fillChannels.Add(float64(channels))
	c.recordOperation("fill", duration, 0, true)
}

// SetPoolSize publishes the current pool occupancy.
func (c *Collector) SetPoolSize(entries int, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.poolEntries.Set(float64(entries))
	c.poolBytes.Set(float64(bytes))
}

// RecordError counts an error returned to a host call site.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

func (c *Collector) recordOperation(operation string, duration time.Duration, size int64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
}

// GetMetrics returns a copy of the per-operation tracking.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics resets the per-operation tracking.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		},
		[]string{"result"},
	)

	c.buildCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "builds_total",
			Help:      "Cache entry builds by outcome",
		},
		[]string{"status"},
	)

	c.buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "build_duration_seconds",
			Help:      "Time to decode a file into a cache entry",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
	)

	c.buildSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "entry_size_bytes",
			Help:      "Decoded size of cache entries",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 14), // 1MB to ~8GB
		},
	)

	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "evictions_total",
			Help:      "Entries removed from the pool by reason",
		},
		[]string{"reason"},
	)

	c.fillDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "fill_duration_seconds",
			Help:      "Time to copy a cached entry into a frame buffer",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	c.fillChannels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "fill_channels_total",
			Help:      "Channels delivered from cache entries",
		},
	)

	c.poolEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pool_entries",
			Help:      "Entries currently in the pool",
		},
	)

	c.poolBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pool_bytes",
			Help:      "Decoded bytes held by the pool",
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Errors by operation and code",
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.lookupCounter,
		c.buildCounter,
		c.buildDuration,
		c.buildSize,
		c.evictionCounter,
		c.fillDuration,
		c.fillChannels,
		c.poolEntries,
		c.poolBytes,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError labels err by its error code, lower-cased.
func classifyError(err error) string {
	return strings.ToLower(string(errors.CodeOf(err)))
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"exrcache-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	operations := c.GetMetrics()
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)

	type row struct {
		Name string `json:"name"`
		OperationMetrics
	}
	body := struct {
		Uptime     string `json:"uptime"`
		Operations []row  `json:"operations"`
	}{Uptime: time.Since(lastReset).Round(time.Second).String()}
	for _, name := range names {
		body.Operations = append(body.Operations, row{Name: name, OperationMetrics: operations[name]})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
