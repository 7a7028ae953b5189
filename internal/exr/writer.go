package exr

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/exrcache/exrcache/pkg/errors"
)

// WritePart is one part to encode.
type WritePart struct {
	Header *Header

	// Pixels supplies the samples, laid out as ReadPixels delivers them.
	// Channels without a slice are written as zeros.
	Pixels *FrameBuffer
}

// Encode writes a complete file. More than one part produces a multi-part
// file, in which every part needs a distinct name. Parts that are not
// scanline images are written as headers whose chunks are all missing.
func Encode(w io.Writer, parts ...WritePart) error {
	if len(parts) == 0 {
		return errors.NewError(errors.ErrCodeValidationFailed, "no parts to write").WithComponent("exr").WithOperation("encode")
	}
	multipart := len(parts) > 1

	names := make(map[string]bool, len(parts))
	version := int32(currentVersion)
	for i, part := range parts {
		h := part.Header
		if h.Type == "" {
			h.Type = ScanlineImage
		}
		if err := h.Validate(); err != nil {
			return err
		}
		if h.Type == ScanlineImage {
			switch h.Compression {
			case NoCompression, RLECompression, ZIPSCompression, ZIPCompression:
			default:
				return unsupportedf("cannot write %s compression", h.Compression)
			}
		}
		if multipart {
			if h.Name == "" {
				return errors.Newf(errors.ErrCodeValidationFailed, "part %d of a multi-part file needs a name", i).WithComponent("exr")
			}
			if names[h.Name] {
				return errors.Newf(errors.ErrCodeValidationFailed, "duplicate part name %q", h.Name).WithComponent("exr")
			}
			names[h.Name] = true
		}
		if h.needsLongNames() {
			version |= flagLongNames
		}
	}
	if multipart {
		version |= flagMultipart
	} else {
		if parts[0].Header.IsTiled() {
			version |= flagTiled
		}
		if parts[0].Header.IsDeep() {
			version |= flagNonImage
		}
	}

	var hw headerWriter
	var preamble [8]byte
	binary.LittleEndian.PutUint32(preamble[0:], Magic)
	binary.LittleEndian.PutUint32(preamble[4:], uint32(version))
	hw.buf.Write(preamble[:])
	for _, part := range parts {
		hw.writeHeader(part.Header, multipart)
	}
	if multipart {
		hw.buf.WriteByte(0)
	}

	tableBytes := 0
	for _, part := range parts {
		tableBytes += 8 * part.Header.chunkCount()
	}

	var chunks bytes.Buffer
	tables := make([][]uint64, len(parts))
	base := uint64(hw.buf.Len() + tableBytes)
	for i, part := range parts {
		h := part.Header
		tables[i] = make([]uint64, h.chunkCount())
		if h.Type != ScanlineImage {
			continue
		}
		lpb := h.LinesPerBlock()
		for idx := range tables[i] {
			y := h.DataWindow.Min.Y + idx*lpb
			data, err := compress(h.Compression, packScanlines(h, part.Pixels, y, min(y+lpb-1, h.DataWindow.Max.Y)))
			if err != nil {
				return err
			}

			tables[i][idx] = base + uint64(chunks.Len())
			var head [12]byte
			fields := head[:8]
			if multipart {
				binary.LittleEndian.PutUint32(head[0:], uint32(i))
				fields = head[4:12]
			}
			binary.LittleEndian.PutUint32(fields[0:], uint32(int32(y)))
			binary.LittleEndian.PutUint32(fields[4:], uint32(len(data)))
			if multipart {
				chunks.Write(head[:12])
			} else {
				chunks.Write(head[:8])
			}
			chunks.Write(data)
		}
	}

	if _, err := w.Write(hw.buf.Bytes()); err != nil {
		return err
	}
	for _, table := range tables {
		raw := make([]byte, 8*len(table))
		for i, off := range table {
			binary.LittleEndian.PutUint64(raw[8*i:], off)
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	_, err := w.Write(chunks.Bytes())
	return err
}

// packScanlines lays out the uncompressed bytes of rows y1..y2.
func packScanlines(h *Header, fb *FrameBuffer, y1, y2 int) []byte {
	dw := h.DataWindow
	var out []byte
	for y := y1; y <= y2; y++ {
		for _, c := range h.Channels {
			if !isSampled(y, c.YSampling) {
				continue
			}
			size := c.Type.Size()
			n := numSamples(c.XSampling, dw.Min.X, dw.Max.X)
			start := len(out)
			out = append(out, make([]byte, n*size)...)

			if fb == nil {
				continue
			}
			s, ok := fb.Get(c.Name)
			if !ok || s.Buf == nil {
				continue
			}
			row := dw.Min.Y + (y-firstSample(dw.Min.Y, c.YSampling))/c.YSampling
			for i := 0; i < n; i++ {
				s.loadRaw(dw.Min.X+i, row, c.Type, out[start+i*size:])
			}
		}
	}
	return out
}
