package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Reader is the image source an entry decodes from. *hybrid.Reader
// implements it.
type Reader interface {
	DataWindow() exr.Box2i
	DisplayWindow() exr.Box2i
	Channels() exr.ChannelList
	ChannelWindow(name string) exr.Box2i
	Header(part int) *exr.Header
	SetFrameBuffer(fb *exr.FrameBuffer)
	ReadPixels(y1, y2 int) error
}

// entryOptions carries the pool settings an entry is built with.
type entryOptions struct {
	threads  int
	workers  int
	maxBytes int64
	now      func() time.Time
	logger   *utils.StructuredLogger
	metrics  types.MetricsRecorder
}

// Entry holds every channel of one file version decoded at full
// resolution. Entries are reference counted: the pool owns one reference
// and FindCache/AddCache hand out another, which the caller must Release.
// Buffers are dropped when the last reference goes.
type Entry struct {
	key        stream.Key
	dataWindow exr.Box2i
	channels   []string
	bytes      int64
	workers    int
	now        func() time.Time
	metrics    types.MetricsRecorder

	mu      sync.RWMutex
	buffers map[string]exr.Slice

	refs       atomic.Int32
	lastAccess atomic.Int64
}

// newEntry decodes every channel of r. A partial file yields an entry with
// the undecoded rows left at zero. Cancellation discards everything.
func newEntry(ctx context.Context, key stream.Key, r Reader, opts entryOptions, progress types.ProgressFunc) (*Entry, error) {
	dw := r.DataWindow()
	channels := r.Channels()

	var total int64
	for _, c := range channels {
		total += int64(dw.Width()) * int64(dw.Height()) * int64(c.Type.Size())
	}
	if opts.maxBytes > 0 && total > opts.maxBytes {
		return nil, errors.Newf(errors.ErrCodeOutOfMemory, "decoded size %s exceeds the entry budget of %s",
			utils.FormatBytes(total), utils.FormatBytes(opts.maxBytes)).
			WithComponent("cache").
			WithOperation("build").
			WithContext("path", key.Path)
	}

	e := &Entry{
		key:        key,
		dataWindow: dw,
		channels:   channels.Names(),
		bytes:      total,
		workers:    max(opts.workers, 1),
		now:        opts.now,
		metrics:    opts.metrics,
		buffers:    make(map[string]exr.Slice, len(channels)),
	}
	e.refs.Store(1)

	fb := exr.NewFrameBuffer()
	for _, c := range channels {
		s := exr.NewSlice(c.Type, dw, 0)
		e.buffers[c.Name] = s
		s.XSampling, s.YSampling = c.XSampling, c.YSampling
		fb.Insert(c.Name, s)
	}

	r.SetFrameBuffer(fb)
	block := ScanlineBlockSize(r.Header(0), dw, r.DisplayWindow(), opts.threads)
	if err := decodeBlocks(ctx, r, dw, block, progress, opts.logger); err != nil {
		e.buffers = nil
		return nil, err
	}

	for _, c := range channels {
		if c.XSampling != 1 || c.YSampling != 1 {
			expandSubsampled(e.buffers[c.Name], r.ChannelWindow(c.Name), c.XSampling, c.YSampling)
		}
	}

	e.touch()
	return e, nil
}

// decodeBlocks reads dw from r in blocks of rows. Input errors end the
// read early without failing it; rows not reached keep their prior
// contents.
func decodeBlocks(ctx context.Context, r Reader, dw exr.Box2i, block int, progress types.ProgressFunc, logger *utils.StructuredLogger) error {
	total := dw.Height()
	for y := dw.Min.Y; y <= dw.Max.Y; y += block {
		end := min(y+block-1, dw.Max.Y)
		if err := r.ReadPixels(y, end); err != nil {
			if !errors.IsInputError(err) {
				return err
			}
			if logger != nil {
				logger.Debug("stopping at unreadable scanlines", map[string]interface{}{
					"first": y, "last": end, "error": err.Error(),
				})
			}
			return nil
		}
		if progress != nil {
			progress(end-dw.Min.Y+1, total)
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeOperationCanceled, "decode canceled").
				WithComponent("cache").
				WithDetail("row", end)
		}
	}
	return nil
}

// Key returns the file version the entry was decoded from.
func (e *Entry) Key() stream.Key { return e.key }

// DataWindow returns the window the buffers cover.
func (e *Entry) DataWindow() exr.Box2i { return e.dataWindow }

// Channels returns the cached channel names in order.
func (e *Entry) Channels() []string { return e.channels }

// Bytes returns the decoded size.
func (e *Entry) Bytes() int64 { return e.bytes }

// LastAccess returns the time of the most recent build or fill, in UTC.
func (e *Entry) LastAccess() time.Time {
	return time.Unix(0, e.lastAccess.Load()).UTC()
}

// Has reports whether the entry holds channel name.
func (e *Entry) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.buffers[name]
	return ok
}

// Info describes the entry as of now.
func (e *Entry) Info(now time.Time) types.EntryInfo {
	last := e.LastAccess()
	return types.EntryInfo{
		Path:       e.key.Path,
		ModTime:    e.key.ModTime.Time(),
		Width:      e.dataWindow.Width(),
		Height:     e.dataWindow.Height(),
		Channels:   e.channels,
		Bytes:      e.bytes,
		LastAccess: last,
		Age:        now.Sub(last),
	}
}

func (e *Entry) age(now time.Time) time.Duration {
	return now.Sub(e.LastAccess())
}

// touch moves lastAccess to now. It never moves backwards.
func (e *Entry) touch() {
	t := e.now().UnixNano()
	for {
		old := e.lastAccess.Load()
		if t <= old || e.lastAccess.CompareAndSwap(old, t) {
			return
		}
	}
}

// tryRetain takes a reference unless the entry is already released.
func (e *Entry) tryRetain() bool {
	for {
		n := e.refs.Load()
		if n <= 0 {
			return false
		}
		if e.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference taken by FindCache or AddCache.
func (e *Entry) Release() {
	if e.refs.Add(-1) == 0 {
		e.mu.Lock()
		e.buffers = nil
		e.mu.Unlock()
	}
}

// FillFrameBuffer copies the cached channels into fb, whose slices are
// addressed for window dw. Slices for channels the entry does not hold
// are set to their fill value. Each row of each slice is one job on a
// bounded worker group, and the call returns once all of them are done.
//
// dw must have the entry's dimensions and every slice must be 1:1 with a
// type the entry can convert into (half or float into float, uint into
// uint); violations panic.
func (e *Entry) FillFrameBuffer(fb *exr.FrameBuffer, dw exr.Box2i) error {
	src := e.dataWindow
	if dw.Width() != src.Width() || dw.Height() != src.Height() {
		panic(fmt.Sprintf("cache: fill window %s does not match cached window %s", dw, src))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.buffers == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "entry has been released").
			WithComponent("cache").
			WithOperation("fill").
			WithContext("path", e.key.Path)
	}

	start := e.now()
	width := dw.Width()
	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, name := range fb.Names() {
		dst, _ := fb.Get(name)
		if xs, ys := dst.Sampling(); xs != 1 || ys != 1 {
			panic(fmt.Sprintf("cache: destination slice %q is sampled %dx%d", name, xs, ys))
		}

		buf, ok := e.buffers[name]
		if !ok {
			if dst.Type != exr.Float && dst.Type != exr.Uint {
				panic(fmt.Sprintf("cache: %s slice %q is not a fill target", dst.Type, name))
			}
			for y := dw.Min.Y; y <= dw.Max.Y; y++ {
				g.Go(func() error {
					fillRow(dst, dw.Min.X, y, width)
					return nil
				})
			}
			continue
		}

		if !convertible(buf.Type, dst.Type) {
			panic(fmt.Sprintf("cache: cannot fill %s slice %q from %s samples", dst.Type, name, buf.Type))
		}
		for y := dw.Min.Y; y <= dw.Max.Y; y++ {
			srcY := src.Min.Y + (y - dw.Min.Y)
			g.Go(func() error {
				copyRow(dst, dw.Min.X, y, buf, src.Min.X, srcY, width)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.touch()
	if e.metrics != nil {
		e.metrics.RecordFill(e.now().Sub(start), fb.Len())
	}
	return nil
}
