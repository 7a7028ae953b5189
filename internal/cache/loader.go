package cache

import (
	"context"
	"strings"

	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// LoaderOptions decide when the draw path builds caches.
type LoaderOptions struct {
	// CacheChannels caches every file.
	CacheChannels bool

	// AutoCacheChannels caches files with at least this many channels.
	// Zero disables the threshold.
	AutoCacheChannels int

	// Threads is passed to the uncached read.
	Threads int

	Logger *utils.StructuredLogger
}

// Loader is the draw path: serve from the pool when possible, build a
// cache when enabled, otherwise read uncached.
type Loader struct {
	pool   *Pool
	opts   LoaderOptions
	logger *utils.StructuredLogger
}

// NewLoader returns a loader over pool.
func NewLoader(pool *Pool, opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Loader{pool: pool, opts: opts, logger: logger.WithComponent("loader")}
}

// Enabled reports whether a file with channelCount channels gets a cache.
func (l *Loader) Enabled(channelCount int) bool {
	if l.opts.CacheChannels {
		return true
	}
	return l.opts.AutoCacheChannels > 0 && channelCount >= l.opts.AutoCacheChannels
}

// Read fills fb, addressed for window dw, with the file r reads from.
// cached reports whether the pixels came from a pool entry. dw must have
// the dimensions of r's data window.
func (l *Loader) Read(ctx context.Context, key stream.Key, r Reader, fb *exr.FrameBuffer, dw exr.Box2i, progress types.ProgressFunc) (cached bool, err error) {
	e := l.pool.FindCache(key)
	if e == nil && l.Enabled(len(r.Channels())) {
		e, err = l.pool.AddCache(ctx, r, key, progress)
		if err != nil {
			return false, err
		}
	}

	if e != nil {
		defer e.Release()
		if err := e.FillFrameBuffer(fb, dw); err != nil {
			return false, err
		}
		return true, nil
	}

	l.logger.Trace("reading uncached", map[string]interface{}{"path": key.Path})
	if dw != r.DataWindow() {
		// ReadDirect decodes in image coordinates
		full := exr.NewFrameBuffer()
		for _, name := range fb.Names() {
			s, _ := fb.Get(name)
			s.Origin += (dw.Min.X-r.DataWindow().Min.X)*s.XStride + (dw.Min.Y-r.DataWindow().Min.Y)*s.YStride
			full.Insert(name, s)
		}
		fb = full
	}
	return false, ReadDirect(ctx, r, fb, l.opts.Threads, progress, l.logger)
}

// DisplayFrameBuffer allocates 1:1 slices over dw for names, typed so that
// FillFrameBuffer accepts them: uint channels get uint slices, everything
// else float. Names r does not have get a float slice filled with 1 for
// alpha channels and 0 otherwise.
func DisplayFrameBuffer(channels exr.ChannelList, dw exr.Box2i, names ...string) *exr.FrameBuffer {
	fb := exr.NewFrameBuffer()
	for _, name := range names {
		c, ok := channels.Find(name)
		switch {
		case !ok:
			fill := 0.0
			if name == "A" || strings.HasSuffix(name, ".A") {
				fill = 1
			}
			fb.Insert(name, exr.NewSlice(exr.Float, dw, fill))
		case c.Type == exr.Uint:
			fb.Insert(name, exr.NewSlice(exr.Uint, dw, 0))
		default:
			fb.Insert(name, exr.NewSlice(exr.Float, dw, 0))
		}
	}
	return fb
}
