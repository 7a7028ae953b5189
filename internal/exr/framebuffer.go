package exr

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/x448/float16"
)

// Slice describes where one channel's pixels live in memory. Sample (x, y)
// is stored little-endian at byte Origin + y*YStride + x*XStride of Buf.
//
// A subsampled channel (XSampling or YSampling > 1) is delivered packed
// toward the data window's min corner: the i-th sampled column and j-th
// sampled row land at (min.X+i, min.Y+j).
type Slice struct {
	Type      PixelType
	Buf       []byte
	Origin    int
	XStride   int
	YStride   int
	XSampling int
	YSampling int
	FillValue float64
}

// NewSlice allocates a zeroed 1:1 slice covering window, addressed so that
// window.Min is byte 0 of Buf.
func NewSlice(t PixelType, window Box2i, fill float64) Slice {
	size := t.Size()
	width, height := window.Width(), window.Height()
	xStride := size
	yStride := width * size
	return Slice{
		Type:      t,
		Buf:       make([]byte, width*height*size),
		Origin:    -(window.Min.X*xStride + window.Min.Y*yStride),
		XStride:   xStride,
		YStride:   yStride,
		XSampling: 1,
		YSampling: 1,
		FillValue: fill,
	}
}

// Sampling returns the sampling factors, treating zero as 1.
func (s Slice) Sampling() (int, int) {
	xs, ys := s.XSampling, s.YSampling
	if xs <= 0 {
		xs = 1
	}
	if ys <= 0 {
		ys = 1
	}
	return xs, ys
}

// Offset returns the byte offset of (x, y) in Buf.
func (s Slice) Offset(x, y int) int {
	return s.Origin + y*s.YStride + x*s.XStride
}

// Float32 reads (x, y) as a float.
func (s Slice) Float32(x, y int) float32 {
	return loadFloat32(s.Type, s.Buf[s.Offset(x, y):])
}

// Uint32 reads (x, y) as an unsigned int.
func (s Slice) Uint32(x, y int) uint32 {
	if s.Type == Uint {
		return binary.LittleEndian.Uint32(s.Buf[s.Offset(x, y):])
	}
	return floatToUint(s.Float32(x, y))
}

// SetFloat32 stores v at (x, y), converting to the slice type.
func (s Slice) SetFloat32(x, y int, v float32) {
	storeFloat32(s.Type, s.Buf[s.Offset(x, y):], v)
}

// SetUint32 stores v at (x, y), converting to the slice type.
func (s Slice) SetUint32(x, y int, v uint32) {
	if s.Type == Uint {
		binary.LittleEndian.PutUint32(s.Buf[s.Offset(x, y):], v)
		return
	}
	s.SetFloat32(x, y, float32(v))
}

// Fill stores the fill value at (x, y).
func (s Slice) Fill(x, y int) {
	if s.Type == Uint {
		s.SetUint32(x, y, floatToUint(float32(s.FillValue)))
		return
	}
	s.SetFloat32(x, y, float32(s.FillValue))
}

// storeRaw converts one sample of type src into the slice at (x, y).
func (s Slice) storeRaw(x, y int, src PixelType, raw []byte) {
	dst := s.Buf[s.Offset(x, y):]
	if src == s.Type {
		copy(dst[:src.Size()], raw)
		return
	}
	if s.Type == Uint {
		binary.LittleEndian.PutUint32(dst, floatToUint(loadFloat32(src, raw)))
		return
	}
	storeFloat32(s.Type, dst, loadFloat32(src, raw))
}

// loadRaw converts the slice sample at (x, y) into type dst.
func (s Slice) loadRaw(x, y int, dst PixelType, out []byte) {
	src := s.Buf[s.Offset(x, y):]
	if dst == s.Type {
		copy(out[:dst.Size()], src)
		return
	}
	if dst == Uint {
		binary.LittleEndian.PutUint32(out, floatToUint(loadFloat32(s.Type, src)))
		return
	}
	storeFloat32(dst, out, loadFloat32(s.Type, src))
}

func loadFloat32(t PixelType, b []byte) float32 {
	switch t {
	case Half:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case Float:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	default:
		return float32(binary.LittleEndian.Uint32(b))
	}
}

func storeFloat32(t PixelType, b []byte, v float32) {
	switch t {
	case Half:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(v).Bits())
	case Float:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	default:
		binary.LittleEndian.PutUint32(b, floatToUint(v))
	}
}

func floatToUint(v float32) uint32 {
	switch {
	case math.IsNaN(float64(v)) || v <= 0:
		return 0
	case v >= math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}

// FrameBuffer is a named set of slices bound together for one read or
// write.
type FrameBuffer struct {
	slices map[string]Slice
}

// NewFrameBuffer returns an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{slices: make(map[string]Slice)}
}

// Insert adds or replaces the slice for name.
func (fb *FrameBuffer) Insert(name string, s Slice) {
	fb.slices[name] = s
}

// Get returns the slice for name.
func (fb *FrameBuffer) Get(name string) (Slice, bool) {
	s, ok := fb.slices[name]
	return s, ok
}

// Names returns the slice names in sorted order.
func (fb *FrameBuffer) Names() []string {
	names := make([]string, 0, len(fb.slices))
	for name := range fb.slices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of slices.
func (fb *FrameBuffer) Len() int {
	return len(fb.slices)
}
