/*
Package cache keeps decoded EXR channels in memory so that repeated draws of
the same file version skip decoding.

# Architecture

	┌─────────────────────────────────────────────┐
	│              Loader.Read                    │
	│   find → (enabled?) add → fill / direct     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                  Pool                       │  ← one mutex
	│   stream.Key → *Entry, LRU by last access   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Entry                       │
	│   one 1:1 buffer per channel, ref counted   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           hybrid.Reader / exr               │
	└─────────────────────────────────────────────┘

# Entries

An entry is built by decoding the whole data window of a file in scanline
blocks (see ScanlineBlockSize). Progress is reported and cancellation is
checked after every block. A truncated or corrupt file ends the decode
early; rows that were never reached stay zero. Cancellation discards the
entry and is the only build error that reaches the caller of AddCache.

Subsampled channels are decoded packed toward the data window's min corner
and then spread to every pixel by a nearest-neighbour pass, so fills
always copy 1:1 rows.

FillFrameBuffer copies each requested channel row by row on a bounded
errgroup. Channels the entry does not hold are written with the slice's
fill value. Half channels widen to float; float and uint copy straight.

# Lifetime

The pool owns one reference to each entry. FindCache and AddCache return
the entry with an extra reference for the caller:

	e := pool.FindCache(key)
	if e != nil {
		defer e.Release()
		e.FillFrameBuffer(fb, dw)
	}

Evicting an entry drops the pool's reference; buffers are freed when the
last holder releases it, so an eviction never pulls memory out from under
a fill in flight.

# Eviction

  - ConfigurePool shrinks the pool to the new capacity, oldest first.
  - AddCache evicts the oldest entry when the pool is full.
  - DeleteStaleCaches removes at most one entry per call, and only if it
    has been idle for longer than the timeout. It is meant for an idle
    tick.
  - Invalidate drops every version of a path; Watcher calls it when a
    tracked file changes on disk.
*/
package cache
