package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exrcache/exrcache/internal/exr"
)

// packed returns a slice whose packed samples hold their sample index.
func packed(t exr.PixelType, window exr.Box2i, xs, ys int) exr.Slice {
	s := exr.NewSlice(t, window, 0)
	nx := (window.Width() + xs - 1) / xs
	ny := (window.Height() + ys - 1) / ys
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			s.SetFloat32(window.Min.X+i, window.Min.Y+j, float32(j*100+i+1))
		}
	}
	return s
}

func TestExpandSubsampled_Horizontal(t *testing.T) {
	for _, width := range []int{6, 7} {
		for _, height := range []int{4, 5} {
			window := exr.NewBox(0, 0, width-1, height-1)
			s := packed(exr.Half, window, 2, 1)

			expandSubsampled(s, window, 2, 1)

			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					assert.Equal(t, float32(y*100+x/2+1), s.Float32(x, y), "%dx%d at (%d,%d)", width, height, x, y)
				}
				for x := 0; x+1 < width; x += 2 {
					assert.Equal(t, s.Float32(x, y), s.Float32(x+1, y))
				}
			}
		}
	}
}

func TestExpandSubsampled_BothAxes(t *testing.T) {
	window := exr.NewBox(4, 2, 8, 6) // 5x5, odd in both directions
	s := packed(exr.Float, window, 2, 2)

	expandSubsampled(s, window, 2, 2)

	for y := window.Min.Y; y <= window.Max.Y; y++ {
		for x := window.Min.X; x <= window.Max.X; x++ {
			i, j := (x-window.Min.X)/2, (y-window.Min.Y)/2
			assert.Equal(t, float32(j*100+i+1), s.Float32(x, y), "at (%d,%d)", x, y)
		}
	}
}

func TestExpandSubsampled_FullResolutionIsNoop(t *testing.T) {
	window := exr.NewBox(0, 0, 3, 3)
	s := packed(exr.Uint, window, 1, 1)
	before := append([]byte(nil), s.Buf...)

	expandSubsampled(s, window, 1, 1)

	assert.Equal(t, before, s.Buf)
}
