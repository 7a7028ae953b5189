package exr

import (
	"encoding/binary"
	"io"

	"github.com/exrcache/exrcache/internal/buffer"
	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Source is the random-access input a file is decoded from.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Options tune decoding.
type Options struct {
	// Threads bounds how many chunks of one part are decoded concurrently.
	Threads int

	// ReconstructOffsets rebuilds offset tables damaged by an interrupted
	// write by scanning the chunks that follow them.
	ReconstructOffsets bool

	// Scratch supplies chunk buffers. Nil uses the package-wide pool.
	Scratch *buffer.BytePool

	Logger *utils.StructuredLogger
}

// File is an open single-part or multi-part EXR container.
type File struct {
	src       Source
	size      int64
	version   int32
	multipart bool
	parts     []*Part
	opts      Options
	logger    *utils.StructuredLogger
}

// maxHeaderBytes bounds how much of the file is read to find the headers.
const maxHeaderBytes = 64 << 20

// Open parses the headers and offset tables of src.
func Open(src Source, opts Options) (*File, error) {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewDiscardLogger()
	}

	f := &File{
		src:    src,
		size:   src.Size(),
		opts:   opts,
		logger: opts.Logger.WithComponent("exr"),
	}

	headerBytes := min(f.size, maxHeaderBytes)
	buf := make([]byte, headerBytes)
	n, err := src.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrCodeStreamRead, "failed to read header").WithComponent("exr").WithOperation("open")
	}
	buf = buf[:n]

	r := &headerReader{buf: buf}
	magic, err := r.int32()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeFormatInvalid, "file too short for an OpenEXR header").WithComponent("exr").WithOperation("open")
	}
	if magic != Magic {
		return nil, errors.NewError(errors.ErrCodeFormatInvalid, "not an OpenEXR file").WithComponent("exr").WithOperation("open")
	}
	version, err := r.int32()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeFormatInvalid, "file too short for an OpenEXR header").WithComponent("exr").WithOperation("open")
	}
	if version&versionMask != currentVersion {
		return nil, unsupportedf("unsupported file format version %d", version&versionMask)
	}
	if version&^versionMask&^knownFlags != 0 {
		return nil, unsupportedf("unsupported version flags 0x%x", version&^versionMask)
	}
	f.version = version
	f.multipart = version&flagMultipart != 0

	nameLimit := shortNameLength
	if version&flagLongNames != 0 {
		nameLimit = maxNameLength
	}

	var headers []*Header
	if f.multipart {
		for {
			h, err := r.readHeader(nameLimit, 0)
			if err != nil {
				return nil, err
			}
			if h == nil {
				break
			}
			headers = append(headers, h)
		}
		if len(headers) == 0 {
			return nil, invalidf("multi-part file has no parts")
		}
	} else {
		h, err := r.readHeader(nameLimit, version)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, invalidf("file has an empty header")
		}
		headers = append(headers, h)
	}

	pos := int64(r.pos)
	for i, h := range headers {
		count := h.chunkCount()
		p := &Part{
			file:    f,
			index:   i,
			header:  h,
			offsets: make([]uint64, count),
		}
		if err := f.readOffsets(pos, p.offsets); err != nil {
			return nil, err
		}
		pos += int64(8 * count)
		p.tableEnd = pos
		f.parts = append(f.parts, p)
	}

	if opts.ReconstructOffsets && !f.IsComplete() {
		f.reconstructOffsets(pos)
	}

	return f, nil
}

// readOffsets fills offsets from the table at pos. A truncated table leaves
// the missing entries zero, which marks those chunks as unwritten.
func (f *File) readOffsets(pos int64, offsets []uint64) error {
	if len(offsets) == 0 {
		return nil
	}
	raw := make([]byte, 8*len(offsets))
	n, err := f.src.ReadAt(raw, pos)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrCodeStreamRead, "failed to read offset table").WithComponent("exr")
	}
	for i := 0; i+8 <= n; i += 8 {
		offsets[i/8] = binary.LittleEndian.Uint64(raw[i:])
	}
	return nil
}

// reconstructOffsets walks the chunks after the offset tables and records
// the position of every scanline chunk it can identify.
func (f *File) reconstructOffsets(start int64) {
	repaired := 0
	pos := start
	head := make([]byte, 48)

	for pos < f.size {
		n, _ := f.src.ReadAt(head, pos)
		buf := head[:n]

		partIndex := 0
		if f.multipart {
			if len(buf) < 4 {
				break
			}
			partIndex = int(int32(binary.LittleEndian.Uint32(buf)))
			buf = buf[4:]
			if partIndex < 0 || partIndex >= len(f.parts) {
				break
			}
		}
		p := f.parts[partIndex]

		chunkLen, y, ok := p.header.chunkExtent(buf)
		if !ok {
			break
		}
		total := int64(n-len(buf)) + chunkLen
		if pos+total > f.size {
			break
		}

		if !p.header.IsTiled() {
			idx, valid := p.chunkIndex(y)
			if valid && p.offsets[idx] != uint64(pos) {
				p.offsets[idx] = uint64(pos)
				repaired++
			}
		}
		pos += total
	}

	if repaired > 0 {
		f.logger.Debug("reconstructed chunk offsets", map[string]interface{}{"chunks": repaired})
	}
}

// chunkExtent returns the byte length of a chunk (without the part number)
// and, for scanline layouts, its first row.
func (h *Header) chunkExtent(buf []byte) (int64, int, bool) {
	le := binary.LittleEndian
	switch h.Type {
	case TiledImage:
		if len(buf) < 20 {
			return 0, 0, false
		}
		size := int64(int32(le.Uint32(buf[16:])))
		return 20 + size, 0, size >= 0
	case DeepScanline:
		if len(buf) < 28 {
			return 0, 0, false
		}
		table := int64(le.Uint64(buf[4:]))
		data := int64(le.Uint64(buf[12:]))
		return 28 + table + data, int(int32(le.Uint32(buf))), table >= 0 && data >= 0
	case DeepTile:
		if len(buf) < 40 {
			return 0, 0, false
		}
		table := int64(le.Uint64(buf[16:]))
		data := int64(le.Uint64(buf[24:]))
		return 40 + table + data, 0, table >= 0 && data >= 0
	default:
		if len(buf) < 8 {
			return 0, 0, false
		}
		size := int64(int32(le.Uint32(buf[4:])))
		return 8 + size, int(int32(le.Uint32(buf))), size >= 0
	}
}

// Parts returns the number of parts.
func (f *File) Parts() int { return len(f.parts) }

// Part returns part i.
func (f *File) Part(i int) *Part { return f.parts[i] }

// Multipart reports whether the file uses the multi-part layout.
func (f *File) Multipart() bool { return f.multipart }

// IsComplete reports whether every chunk of every part has been written.
func (f *File) IsComplete() bool {
	for _, p := range f.parts {
		if !p.IsComplete() {
			return false
		}
	}
	return true
}

func (f *File) getBuffer(size int) []byte {
	if f.opts.Scratch != nil {
		return f.opts.Scratch.Get(size)
	}
	return buffer.GetBuffer(size)
}

func (f *File) putBuffer(buf []byte) {
	if f.opts.Scratch != nil {
		f.opts.Scratch.Put(buf)
		return
	}
	buffer.PutBuffer(buf)
}
