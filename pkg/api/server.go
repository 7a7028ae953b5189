// Package api serves the admin endpoints of a running cache: pool
// statistics and entries, purge, invalidation and capacity changes.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Pool is the part of the cache pool the server drives.
type Pool interface {
	Stats() types.PoolStats
	Entries() []types.EntryInfo
	Purge()
	Invalidate(path string) int
	ConfigurePool(maxCaches int)
}

// Server provides HTTP API endpoints for a cache pool
type Server struct {
	httpServer *http.Server
	pool       Pool
	metrics    http.Handler
	logger     *utils.StructuredLogger
	config     ServerConfig
	started    time.Time
	mux        *http.ServeMux
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:9464")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// Version is reported by /info.
	Version string `yaml:"-" json:"-"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:9464",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "dev",
	}
}

// NewServer creates a new API server. metrics, when not nil, receives
// /metrics and /debug/ requests.
func NewServer(config ServerConfig, pool Pool, metrics http.Handler, logger *utils.StructuredLogger) *Server {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	s := &Server{
		pool:    pool,
		metrics: metrics,
		logger:  logger.WithComponent("api"),
		config:  config,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/health/live", s.handleLiveness)
	s.mux.HandleFunc("/pool/stats", s.handleStats)
	s.mux.HandleFunc("/pool/entries", s.handleEntries)
	s.mux.HandleFunc("/pool/purge", s.handlePurge)
	s.mux.HandleFunc("/pool/invalidate", s.handleInvalidate)
	s.mux.HandleFunc("/pool/capacity", s.handleCapacity)
	s.mux.HandleFunc("/info", s.handleInfo)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
		s.mux.Handle("/debug/", metrics)
	}

	var handler http.Handler = s.loggingMiddleware(s.mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on l until Shutdown. Request contexts derive
// from ctx.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("serving admin API", map[string]interface{}{"address": l.Addr().String()})
	if err := s.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("shutting down admin API")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// Pool endpoint handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, s.pool.Stats())
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	entries := s.pool.Entries()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	before := s.pool.Stats().Entries
	s.pool.Purge()
	s.logger.Info("pool purged", map[string]interface{}{"entries": before})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"purged": before})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path required")
		return
	}

	n := s.pool.Invalidate(path)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"path":        path,
		"invalidated": n,
	})
}

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"max_caches": s.pool.Stats().Capacity})
	case http.MethodPut, http.MethodPost:
		n, err := strconv.Atoi(r.URL.Query().Get("max_caches"))
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "max_caches must be a non-negative integer")
			return
		}
		s.pool.ConfigurePool(n)
		s.logger.Info("pool reconfigured", map[string]interface{}{"max_caches": n})
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"max_caches": n})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	endpoints := []string{
		"/health/live",
		"/pool/stats",
		"/pool/entries",
		"/pool/purge",
		"/pool/invalidate?path=",
		"/pool/capacity",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "exrcache",
		"version":   s.config.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
