package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/exrcache/exrcache/internal/cache"
	"github.com/exrcache/exrcache/internal/config"
	"github.com/exrcache/exrcache/internal/metrics"
	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/api"
	cerrors "github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

type watchFlags struct {
	io             ioFlags
	duration       time.Duration
	metricsAddr    string
	watchFiles     bool
	maxCaches      int
	timeoutSeconds int
	idleInterval   time.Duration
}

func watchCmd() *Command {
	var wf watchFlags
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	addIOFlags(fs, &wf.io)
	fs.DurationVar(&wf.duration, "duration", 0, "exit after this long (default: until interrupted)")
	fs.StringVar(&wf.metricsAddr, "metrics-addr", "", "serve metrics and the admin API on this address")
	fs.BoolVar(&wf.watchFiles, "watch-files", false, "invalidate entries when their file changes")
	fs.IntVar(&wf.maxCaches, "max-caches", 0, "pool capacity (default from config)")
	fs.IntVar(&wf.timeoutSeconds, "timeout", 0, "drop entries idle for this many seconds (default from config)")
	fs.DurationVar(&wf.idleInterval, "idle-interval", 0, "how often to sweep idle entries (default from config)")

	return &Command{
		Flags: fs,
		Usage: "watch [flags] <file>...",
		Short: "Keep files decoded in the cache pool",
		Long: "Decode the given files into the cache pool and keep it maintained: idle\n" +
			"entries are swept on an interval, changed files are invalidated and\n" +
			"decoded again, and pool metrics are served over HTTP.",
		Exec: func(ctx context.Context, e *env, args []string) error {
			wf.io.apply(fs, e.cfg)
			if fs.Changed("metrics-addr") {
				e.cfg.Global.MetricsAddr = wf.metricsAddr
			}
			if fs.Changed("watch-files") {
				e.cfg.IO.WatchFiles = wf.watchFiles
			}
			if fs.Changed("max-caches") {
				e.cfg.Cache.MaxCaches = wf.maxCaches
			}
			if fs.Changed("timeout") {
				e.cfg.Cache.TimeoutSeconds = wf.timeoutSeconds
			}
			if fs.Changed("idle-interval") {
				e.cfg.Cache.IdleInterval = wf.idleInterval
			}
			return execWatch(ctx, e, &wf, args)
		},
	}
}

func execWatch(ctx context.Context, e *env, wf *watchFlags, args []string) error {
	if len(args) == 0 {
		return errPathRequired
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if wf.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wf.duration)
		defer cancel()
	}

	var (
		recorder       types.MetricsRecorder
		metricsHandler http.Handler
	)
	if e.cfg.Global.MetricsAddr != "" {
		mc := metrics.DefaultConfig()
		mc.Addr = e.cfg.Global.MetricsAddr
		collector, err := metrics.NewCollector(mc)
		if err != nil {
			return err
		}
		recorder = collector
		metricsHandler = collector.Handler()
	}

	pool, err := newPool(e.cfg, e.logger, recorder)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.Global.MetricsAddr != "" {
		l, err := net.Listen("tcp", e.cfg.Global.MetricsAddr)
		if err != nil {
			return err
		}
		server := api.NewServer(api.ServerConfig{
			Address:      l.Addr().String(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			Version:      version,
		}, pool, metricsHandler, e.logger)
		fmt.Fprintf(e.out, "serving on http://%s\n", l.Addr())

		g.Go(func() error { return server.Serve(gctx, l) })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if e.cfg.IO.WatchFiles {
		watcher, err := cache.NewWatcher(pool, e.logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		for _, path := range args {
			if err := watcher.Track(path); err != nil {
				return err
			}
		}
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	w := newWarmer(e.cfg, e.logger, pool, args)
	g.Go(func() error { return w.loop(gctx) })

	err = g.Wait()
	printStats(e, pool.Stats())
	return err
}

const version = "0.1.0"

// warmer keeps a set of files cached, decoding each new version once.
type warmer struct {
	cfg    *config.Configuration
	logger *utils.StructuredLogger
	pool   *cache.Pool
	paths  []string
	keys   map[string]stream.Key
}

func newWarmer(cfg *config.Configuration, logger *utils.StructuredLogger, pool *cache.Pool, paths []string) *warmer {
	return &warmer{
		cfg:    cfg,
		logger: logger.WithComponent("warmer"),
		pool:   pool,
		paths:  paths,
		keys:   make(map[string]stream.Key, len(paths)),
	}
}

// loop warms every file, then sweeps idle entries and picks up changed
// files on every idle interval until ctx is done.
func (w *warmer) loop(ctx context.Context) error {
	interval := w.cfg.Cache.IdleInterval
	if interval <= 0 {
		interval = config.NewDefault().Cache.IdleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.refresh(ctx); err != nil {
			if cerrors.IsCanceled(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if w.cfg.Cache.TimeoutSeconds > 0 && w.pool.DeleteStaleCaches(w.cfg.Cache.TimeoutSeconds) {
			w.logger.Debug("idle entries swept", map[string]interface{}{"entries": w.pool.Len()})
		}
	}
}

// refresh decodes every file whose current version has not been seen.
// An entry dropped by the idle sweep is not rebuilt until its file
// changes.
func (w *warmer) refresh(ctx context.Context) error {
	for _, path := range w.paths {
		key, err := currentKey(path)
		if err != nil {
			w.logger.Warn("cannot stat file", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		if seen, ok := w.keys[key.Path]; ok && seen == key {
			continue
		}
		if err := w.warm(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (w *warmer) warm(ctx context.Context, path string) error {
	f, err := openImageRetry(ctx, w.cfg, w.logger, path)
	if err != nil {
		if cerrors.IsCanceled(err) {
			return err
		}
		w.logger.Warn("cannot open file", map[string]interface{}{"path": path, "error": err.Error()})
		return nil
	}
	defer func() { _ = f.Close() }()

	key := f.stream.Key()
	start := time.Now()
	entry, err := w.pool.AddCache(ctx, f.reader, key, nil)
	if err != nil {
		return err
	}
	w.keys[key.Path] = key

	if entry == nil {
		w.logger.Warn("file not cached", map[string]interface{}{"path": key.Path})
		return nil
	}
	defer entry.Release()

	w.logger.Info("file cached", map[string]interface{}{
		"path":     key.Path,
		"channels": len(entry.Channels()),
		"size":     utils.FormatBytes(entry.Bytes()),
		"duration": time.Since(start).Round(time.Millisecond),
	})
	return nil
}

func currentKey(path string) (stream.Key, error) {
	s, err := stream.Open(path)
	if err != nil {
		return stream.Key{}, err
	}
	defer func() { _ = s.Close() }()
	return s.Key(), nil
}
