package exr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// sampleValue is exactly representable as a half.
func sampleValue(x, y, channel int) float32 {
	return float32(((x*7+y*3+channel)%64+64)%64) / 4
}

// patternPixels fills a frame buffer for h with sampleValue at every packed
// sample position.
func patternPixels(h *Header) *FrameBuffer {
	fb := NewFrameBuffer()
	dw := h.DataWindow
	for ci, c := range h.Channels {
		s := NewSlice(c.Type, dw, 0)
		s.XSampling, s.YSampling = c.XSampling, c.YSampling
		nx := numSamples(c.XSampling, dw.Min.X, dw.Max.X)
		ny := numSamples(c.YSampling, dw.Min.Y, dw.Max.Y)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				x, y := dw.Min.X+i, dw.Min.Y+j
				if c.Type == Uint {
					s.SetUint32(x, y, uint32(x*1000+y*10+ci))
				} else {
					s.SetFloat32(x, y, sampleValue(x, y, ci))
				}
			}
		}
		fb.Insert(c.Name, s)
	}
	return fb
}

func readBack(h *Header) *FrameBuffer {
	fb := NewFrameBuffer()
	for _, c := range h.Channels {
		s := NewSlice(c.Type, h.DataWindow, 0)
		s.XSampling, s.YSampling = c.XSampling, c.YSampling
		fb.Insert(c.Name, s)
	}
	return fb
}

func encode(t *testing.T, parts ...WritePart) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, parts...))
	return buf.Bytes()
}

func open(t *testing.T, data []byte, opts Options) *File {
	t.Helper()
	f, err := Open(bytes.NewReader(data), opts)
	require.NoError(t, err)
	return f
}

func rgbChannels(t PixelType) ChannelList {
	var list ChannelList
	for _, name := range []string{"R", "G", "B"} {
		list.Insert(Channel{Name: name, Type: t, XSampling: 1, YSampling: 1})
	}
	return list
}
