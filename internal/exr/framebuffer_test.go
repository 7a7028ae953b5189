package exr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSlice_Addressing(t *testing.T) {
	window := NewBox(10, 20, 13, 22)
	s := NewSlice(Float, window, 0)

	assert.Len(t, s.Buf, 4*3*4)
	assert.Equal(t, 0, s.Offset(10, 20))
	assert.Equal(t, 4, s.Offset(11, 20))
	assert.Equal(t, 16, s.Offset(10, 21))
	assert.Equal(t, len(s.Buf)-4, s.Offset(13, 22))
}

func TestSliceConversions(t *testing.T) {
	window := NewBox(0, 0, 0, 0)

	half := NewSlice(Half, window, 0)
	half.SetFloat32(0, 0, 0.5)
	assert.Equal(t, []byte{0x00, 0x38}, half.Buf)
	assert.Equal(t, float32(0.5), half.Float32(0, 0))
	assert.Equal(t, uint32(0), half.Uint32(0, 0))

	f := NewSlice(Float, window, 0)
	f.storeRaw(0, 0, Half, []byte{0x00, 0x3c})
	assert.Equal(t, float32(1), f.Float32(0, 0))

	u := NewSlice(Uint, window, 0)
	u.storeRaw(0, 0, Float, []byte{0, 0, 0x80, 0xbf}) // -1.0
	assert.Equal(t, uint32(0), u.Uint32(0, 0))
	u.SetFloat32(0, 0, float32(math.Inf(1)))
	assert.Equal(t, uint32(math.MaxUint32), u.Uint32(0, 0))
	u.SetUint32(0, 0, 7)
	assert.Equal(t, float32(7), u.Float32(0, 0))

	out := make([]byte, 2)
	u.loadRaw(0, 0, Half, out)
	assert.Equal(t, []byte{0x00, 0x47}, out)
}

func TestSliceFill(t *testing.T) {
	window := NewBox(0, 0, 1, 0)
	a := NewSlice(Float, window, 1)
	a.Fill(1, 0)
	assert.Equal(t, float32(0), a.Float32(0, 0))
	assert.Equal(t, float32(1), a.Float32(1, 0))

	id := NewSlice(Uint, window, 3)
	id.Fill(0, 0)
	assert.Equal(t, uint32(3), id.Uint32(0, 0))
}

func TestSliceSamplingDefaults(t *testing.T) {
	xs, ys := Slice{}.Sampling()
	assert.Equal(t, 1, xs)
	assert.Equal(t, 1, ys)
}

func TestFrameBuffer(t *testing.T) {
	fb := NewFrameBuffer()
	fb.Insert("G", Slice{Type: Half})
	fb.Insert("B", Slice{Type: Half})
	fb.Insert("G", Slice{Type: Float})

	assert.Equal(t, 2, fb.Len())
	assert.Equal(t, []string{"B", "G"}, fb.Names())
	g, ok := fb.Get("G")
	assert.True(t, ok)
	assert.Equal(t, Float, g.Type)
	_, ok = fb.Get("R")
	assert.False(t, ok)
}
