package main

import (
	"context"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/exrcache/exrcache/internal/cache"
	"github.com/exrcache/exrcache/internal/config"
	"github.com/exrcache/exrcache/internal/hybrid"
	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/retry"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// ioFlags override the io section of the configuration.
type ioFlags struct {
	threads         int
	memoryMap       bool
	renameFirstPart bool
}

func addIOFlags(fs *flag.FlagSet, f *ioFlags) {
	fs.IntVarP(&f.threads, "threads", "t", 0, "decode threads (default from config, 0 = all CPUs)")
	fs.BoolVar(&f.memoryMap, "mmap", false, "memory map input files")
	fs.BoolVar(&f.renameFirstPart, "rename-first-part", false, "prefix the first part's channels with its name")
}

func (f *ioFlags) apply(fs *flag.FlagSet, cfg *config.Configuration) {
	if fs.Changed("threads") {
		cfg.IO.Threads = f.threads
	}
	if fs.Changed("mmap") {
		cfg.IO.MemoryMap = f.memoryMap
	}
	if fs.Changed("rename-first-part") {
		cfg.IO.RenameFirstPart = f.renameFirstPart
	}
}

// openFile is one open input. Close releases the stream.
type openFile struct {
	stream *stream.Stream
	reader *hybrid.Reader
}

func (f *openFile) Close() error {
	return f.stream.Close()
}

// openImage opens path as configured.
func openImage(cfg *config.Configuration, logger *utils.StructuredLogger, path string) (*openFile, error) {
	s, err := stream.Open(path)
	if err != nil {
		return nil, err
	}
	if cfg.IO.MemoryMap {
		if err := s.MemoryMap(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	r, err := hybrid.Open(s, hybrid.Options{
		RenameFirstPart:    cfg.IO.RenameFirstPart,
		Threads:            cfg.Threads(),
		ReconstructOffsets: cfg.IO.ReconstructOffsets,
		Logger:             logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return &openFile{stream: s, reader: r}, nil
}

// openImageRetry opens path, retrying while it looks like another process
// is still writing it.
func openImageRetry(ctx context.Context, cfg *config.Configuration, logger *utils.StructuredLogger, path string) (*openFile, error) {
	rc := retry.DefaultConfig()
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("retrying open", map[string]interface{}{
			"path":    path,
			"attempt": attempt,
			"delay":   delay,
			"error":   err.Error(),
		})
	}

	var f *openFile
	err := retry.New(rc).Do(ctx, func(context.Context) error {
		var err error
		f, err = openImage(cfg, logger, path)
		return err
	})
	return f, err
}

// newPool builds the pool the configuration describes.
func newPool(cfg *config.Configuration, logger *utils.StructuredLogger, metrics types.MetricsRecorder) (*cache.Pool, error) {
	maxBytes, err := cfg.MaxEntryBytes()
	if err != nil {
		return nil, err
	}
	return cache.NewPool(cfg.Cache.MaxCaches, cache.Options{
		Threads:       cfg.Threads(),
		MaxEntryBytes: maxBytes,
		Logger:        logger,
		Metrics:       metrics,
	}), nil
}
