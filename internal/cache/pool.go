package cache

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Options configure a Pool.
type Options struct {
	// Threads is the decode thread count used by the block size heuristic.
	Threads int

	// Workers bounds the row jobs of one fill. Zero means GOMAXPROCS.
	Workers int

	// MaxEntryBytes caps the decoded size of one entry. Zero disables the
	// cap.
	MaxEntryBytes int64

	// Now is the pool clock. Defaults to time.Now.
	Now func() time.Time

	Logger  *utils.StructuredLogger
	Metrics types.MetricsRecorder
}

// Pool is a bounded registry of decoded files, evicting the least recently
// accessed entry when full.
type Pool struct {
	mu        sync.Mutex
	capacity  int
	items     map[stream.Key]*list.Element
	evictList *list.List
	bytes     int64
	stats     types.PoolStats

	builds singleflight.Group

	opts    Options
	logger  *utils.StructuredLogger
	metrics types.MetricsRecorder
}

// NewPool creates a pool holding at most capacity entries.
func NewPool(capacity int, opts Options) *Pool {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = types.NopMetrics{}
	}

	return &Pool{
		capacity:  max(capacity, 0),
		items:     make(map[stream.Key]*list.Element),
		evictList: list.New(),
		opts:      opts,
		logger:    logger.WithComponent("pool"),
		metrics:   metrics,
	}
}

// ConfigurePool sets the capacity, evicting least recently accessed entries
// until the pool fits. Zero empties the pool and disables caching.
func (p *Pool) ConfigurePool(maxCaches int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.capacity = max(maxCaches, 0)
	for p.evictList.Len() > p.capacity {
		p.evictOldest(types.EvictCapacity)
	}
	p.logger.Debug("pool configured", map[string]interface{}{"capacity": p.capacity, "entries": p.evictList.Len()})
}

// FindCache returns the entry for key, retained for the caller, or nil.
func (p *Pool) FindCache(key stream.Key) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if element, ok := p.items[key]; ok {
		e := element.Value.(*Entry)
		if e.tryRetain() {
			p.stats.Hits++
			p.metrics.RecordLookup(true)
			return e
		}
	}
	p.stats.Misses++
	p.metrics.RecordLookup(false)
	return nil
}

// AddCache decodes r into a new entry for key and returns it retained for
// the caller. It returns nil without error when caching is disabled or the
// build failed, in which case the caller reads uncached. Only cancellation
// is reported as an error.
//
// Concurrent calls for the same key share one build. A caller whose shared
// build was canceled by another caller builds once more on its own.
func (p *Pool) AddCache(ctx context.Context, r Reader, key stream.Key, progress types.ProgressFunc) (*Entry, error) {
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if p.capacity == 0 {
			p.mu.Unlock()
			return nil, nil
		}
		if element, ok := p.items[key]; ok {
			if e := element.Value.(*Entry); e.tryRetain() {
				p.mu.Unlock()
				return e, nil
			}
		}
		p.mu.Unlock()

		v, err, shared := p.builds.Do(key.String(), func() (interface{}, error) {
			return p.build(ctx, r, key, progress)
		})
		if err == nil {
			e, _ := v.(*Entry)
			if e == nil || !e.tryRetain() {
				return nil, nil
			}
			return e, nil
		}
		if !errors.IsCanceled(err) {
			return nil, nil
		}
		if !shared || ctx.Err() != nil {
			return nil, err
		}

		fields := map[string]interface{}{"path": key.Path, "attempt": attempt + 1}
		if attempt > 0 {
			p.logger.Debug("shared cache build canceled again, reading uncached", fields)
			return nil, nil
		}
		p.logger.Debug("shared cache build canceled by another caller, rebuilding", fields)
	}
}

func (p *Pool) build(ctx context.Context, r Reader, key stream.Key, progress types.ProgressFunc) (*Entry, error) {
	p.mu.Lock()
	if p.capacity == 0 {
		p.mu.Unlock()
		return nil, nil
	}
	for p.evictList.Len() >= p.capacity {
		p.evictOldest(types.EvictCapacity)
	}
	p.mu.Unlock()

	start := p.opts.Now()
	e, err := newEntry(ctx, key, r, entryOptions{
		threads:  p.opts.Threads,
		workers:  p.opts.Workers,
		maxBytes: p.opts.MaxEntryBytes,
		now:      p.opts.Now,
		logger:   p.logger,
		metrics:  p.metrics,
	}, progress)
	elapsed := p.opts.Now().Sub(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.metrics.RecordBuild(elapsed, 0, err)
		fields := map[string]interface{}{"path": key.Path, "error": err.Error()}
		if errors.IsCanceled(err) {
			p.stats.Cancellations++
			p.logger.Info("cache build canceled", fields)
		} else {
			p.stats.BuildFailures++
			p.logger.Warn("cache build failed, reading uncached", fields)
		}
		return nil, err
	}

	p.stats.Builds++
	p.metrics.RecordBuild(elapsed, e.bytes, nil)
	if p.capacity == 0 {
		// disabled while decoding
		e.Release()
		return nil, nil
	}
	if element, ok := p.items[key]; ok {
		p.removeElement(element, types.EvictCapacity)
	}

	p.items[key] = p.evictList.PushFront(e)
	p.bytes += e.bytes
	for p.evictList.Len() > p.capacity {
		p.evictOldest(types.EvictCapacity)
	}
	p.metrics.SetPoolSize(p.evictList.Len(), p.bytes)
	p.logger.Debug("cache built", map[string]interface{}{
		"path":     key.Path,
		"channels": len(e.channels),
		"bytes":    utils.FormatBytes(e.bytes),
		"elapsed":  elapsed.String(),
	})
	return e, nil
}

// DeleteStaleCaches removes the least recently accessed entry if it has
// not been accessed for more than timeoutSeconds. At most one entry goes
// per call; the result reports whether one did.
func (p *Pool) DeleteStaleCaches(timeoutSeconds int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	element := p.oldest()
	if element == nil {
		return false
	}
	e := element.Value.(*Entry)
	if e.age(p.opts.Now()) <= time.Duration(timeoutSeconds)*time.Second {
		return false
	}
	p.removeElement(element, types.EvictStale)
	return true
}

// Invalidate removes every entry decoded from path, whatever its
// modification time, and returns how many went.
func (p *Pool) Invalidate(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int
	for key, element := range p.items {
		if key.Path == path {
			p.removeElement(element, types.EvictInvalidate)
			removed++
		}
	}
	return removed
}

// Purge removes every entry but keeps the capacity.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.evictList.Len() > 0 {
		p.removeElement(p.evictList.Back(), types.EvictPurge)
	}
}

// Close empties the pool and disables caching.
func (p *Pool) Close() {
	p.ConfigurePool(0)
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictList.Len()
}

// Capacity returns the configured capacity.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Stats returns pool statistics
func (p *Pool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Entries = p.evictList.Len()
	stats.Capacity = p.capacity
	stats.Bytes = p.bytes
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Entries describes every entry, most recently inserted first.
func (p *Pool) Entries() []types.EntryInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.Now()
	infos := make([]types.EntryInfo, 0, p.evictList.Len())
	for element := p.evictList.Front(); element != nil; element = element.Next() {
		infos = append(infos, element.Value.(*Entry).Info(now))
	}
	return infos
}

// oldest returns the entry with the earliest last access. Ties go to the
// earliest inserted.
func (p *Pool) oldest() *list.Element {
	var found *list.Element
	var foundAccess int64
	for element := p.evictList.Back(); element != nil; element = element.Prev() {
		access := element.Value.(*Entry).lastAccess.Load()
		if found == nil || access < foundAccess {
			found, foundAccess = element, access
		}
	}
	return found
}

func (p *Pool) evictOldest(reason types.EvictionReason) {
	if element := p.oldest(); element != nil {
		p.removeElement(element, reason)
	}
}

func (p *Pool) removeElement(element *list.Element, reason types.EvictionReason) {
	e := element.Value.(*Entry)
	p.evictList.Remove(element)
	delete(p.items, e.key)
	p.bytes -= e.bytes

	switch reason {
	case types.EvictStale:
		p.stats.StaleEvictions++
	case types.EvictInvalidate:
		p.stats.Invalidations++
	default:
		p.stats.Evictions++
	}
	p.metrics.RecordEviction(reason)
	p.metrics.SetPoolSize(p.evictList.Len(), p.bytes)
	p.logger.Debug("cache evicted", map[string]interface{}{
		"path":   e.key.Path,
		"reason": string(reason),
		"bytes":  utils.FormatBytes(e.bytes),
	})

	e.Release()
}
