package exr

import (
	"encoding/binary"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/exrcache/exrcache/pkg/errors"
)

// Part is one sub-image of a file.
type Part struct {
	file     *File
	index    int
	header   *Header
	offsets  []uint64
	tableEnd int64
}

// Header returns the part header.
func (p *Part) Header() *Header { return p.header }

// Index returns the position of the part in the file.
func (p *Part) Index() int { return p.index }

// ChunkCount returns the number of entries in the offset table.
func (p *Part) ChunkCount() int { return len(p.offsets) }

// IsComplete reports whether every chunk offset points inside the file.
func (p *Part) IsComplete() bool {
	for _, off := range p.offsets {
		if !p.validOffset(off) {
			return false
		}
	}
	return true
}

func (p *Part) validOffset(off uint64) bool {
	return off != 0 && int64(off) >= p.file.parts[len(p.file.parts)-1].tableEnd && int64(off) < p.file.size
}

func (p *Part) chunkIndex(y int) (int, bool) {
	dw := p.header.DataWindow
	lpb := p.header.LinesPerBlock()
	if y < dw.Min.Y || y > dw.Max.Y || (y-dw.Min.Y)%lpb != 0 {
		return 0, false
	}
	idx := (y - dw.Min.Y) / lpb
	return idx, idx < len(p.offsets)
}

type target struct {
	channel Channel
	slice   Slice
	bound   bool
}

// ReadPixels decodes scanlines y1..y2 into fb. Slices named after channels
// of this part receive converted samples; slices for channels the part does
// not have are set to their fill value over the requested rows.
//
// Chunks are decoded concurrently. All of them are attempted even when one
// fails, so a partially written file yields every row that is present; the
// first error is returned.
func (p *Part) ReadPixels(fb *FrameBuffer, y1, y2 int) error {
	h := p.header
	switch {
	case h.IsDeep():
		return unsupportedf("part %d holds deep data, which cannot be read into a flat frame buffer", p.index)
	case h.IsTiled():
		return unsupportedf("part %d is tiled; only scanline parts are supported", p.index)
	case !h.Compression.Decodable():
		return unsupportedf("part %d uses %s compression, which is not supported", p.index, h.Compression)
	}

	if y1 > y2 {
		y1, y2 = y2, y1
	}
	dw := h.DataWindow
	if y1 < dw.Min.Y || y2 > dw.Max.Y {
		return errors.Newf(errors.ErrCodeValidationFailed, "scanlines %d..%d are outside the data window %s", y1, y2, dw).
			WithComponent("exr").
			WithOperation("read_pixels")
	}

	targets := make([]target, len(h.Channels))
	for i, c := range h.Channels {
		targets[i].channel = c
		s, ok := fb.Get(c.Name)
		if !ok || s.Buf == nil {
			continue
		}
		xs, ys := s.Sampling()
		if xs != c.XSampling || ys != c.YSampling {
			return errors.Newf(errors.ErrCodeValidationFailed, "channel %q is sampled %dx%d but its slice is %dx%d",
				c.Name, c.XSampling, c.YSampling, xs, ys).WithComponent("exr").WithOperation("read_pixels")
		}
		targets[i].slice = s
		targets[i].bound = true
	}

	for _, name := range fb.Names() {
		if _, ok := h.Channels.Find(name); ok {
			continue
		}
		s, _ := fb.Get(name)
		if s.Buf != nil {
			fillRows(s, dw, y1, y2)
		}
	}

	lpb := h.LinesPerBlock()
	first := (y1 - dw.Min.Y) / lpb
	last := (y2 - dw.Min.Y) / lpb

	var g errgroup.Group
	g.SetLimit(p.file.opts.Threads)
	for idx := first; idx <= last; idx++ {
		g.Go(func() error {
			return p.readChunk(idx, targets, y1, y2)
		})
	}
	return g.Wait()
}

func fillRows(s Slice, dw Box2i, y1, y2 int) {
	xs, ys := s.Sampling()
	n := numSamples(xs, dw.Min.X, dw.Max.X)
	first := firstSample(dw.Min.Y, ys)
	for y := y1; y <= y2; y++ {
		if !isSampled(y, ys) {
			continue
		}
		row := dw.Min.Y + (y-first)/ys
		for i := 0; i < n; i++ {
			s.Fill(dw.Min.X+i, row)
		}
	}
}

func (p *Part) chunkError(code errors.ErrorCode, idx int, msg string, cause error) error {
	err := errors.NewError(code, msg).
		WithComponent("exr").
		WithOperation("read_chunk").
		WithDetail("part", p.index).
		WithDetail("chunk", idx)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

func (p *Part) readChunk(idx int, targets []target, y1, y2 int) error {
	h := p.header
	dw := h.DataWindow
	lpb := h.LinesPerBlock()
	f := p.file

	off := p.offsets[idx]
	if !p.validOffset(off) {
		return p.chunkError(errors.ErrCodeInputPartial, idx, "chunk has not been written", nil)
	}

	headLen := 8
	if f.multipart {
		headLen = 12
	}
	var head [12]byte
	if _, err := f.src.ReadAt(head[:headLen], int64(off)); err != nil {
		return p.chunkError(errors.ErrCodeInputPartial, idx, "chunk header is truncated", io.ErrUnexpectedEOF)
	}

	fields := head[:headLen]
	if f.multipart {
		if part := int(int32(binary.LittleEndian.Uint32(fields))); part != p.index {
			return p.chunkError(errors.ErrCodeInputCorrupt, idx, "chunk belongs to another part", nil)
		}
		fields = fields[4:]
	}

	chunkY := dw.Min.Y + idx*lpb
	if y := int(int32(binary.LittleEndian.Uint32(fields))); y != chunkY {
		return p.chunkError(errors.ErrCodeInputCorrupt, idx, "chunk starts at an unexpected scanline", nil)
	}
	dataSize := int64(int32(binary.LittleEndian.Uint32(fields[4:])))
	if dataSize < 0 {
		return p.chunkError(errors.ErrCodeInputCorrupt, idx, "chunk has a negative size", nil)
	}
	if int64(off)+int64(headLen)+dataSize > f.size {
		return p.chunkError(errors.ErrCodeInputPartial, idx, "chunk data is truncated", io.ErrUnexpectedEOF)
	}

	lastY := min(chunkY+lpb-1, dw.Max.Y)
	expected := 0
	for y := chunkY; y <= lastY; y++ {
		for _, c := range h.Channels {
			if isSampled(y, c.YSampling) {
				expected += numSamples(c.XSampling, dw.Min.X, dw.Max.X) * c.Type.Size()
			}
		}
	}
	if dataSize > int64(expected) {
		return p.chunkError(errors.ErrCodeInputCorrupt, idx, "chunk is larger than its scanlines", nil)
	}

	packed := f.getBuffer(int(dataSize))
	defer f.putBuffer(packed)
	if n, err := f.src.ReadAt(packed, int64(off)+int64(headLen)); n < len(packed) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return p.chunkError(errors.ErrCodeInputPartial, idx, "chunk data is truncated", err)
	}

	raw := f.getBuffer(expected)
	defer f.putBuffer(raw)
	if err := decompress(h.Compression, packed, raw); err != nil {
		if errors.IsFormatUnsupported(err) {
			return err
		}
		return p.chunkError(errors.ErrCodeInputCorrupt, idx, "chunk cannot be decompressed", err)
	}

	pos := 0
	for y := chunkY; y <= lastY; y++ {
		for _, t := range targets {
			c := t.channel
			if !isSampled(y, c.YSampling) {
				continue
			}
			size := c.Type.Size()
			n := numSamples(c.XSampling, dw.Min.X, dw.Max.X)
			if t.bound && y >= y1 && y <= y2 {
				row := dw.Min.Y + (y-firstSample(dw.Min.Y, c.YSampling))/c.YSampling
				for i := 0; i < n; i++ {
					t.slice.storeRaw(dw.Min.X+i, row, c.Type, raw[pos+i*size:])
				}
			}
			pos += n * size
		}
	}
	return nil
}
