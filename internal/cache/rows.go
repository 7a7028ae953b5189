package cache

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/exrcache/exrcache/internal/exr"
)

// copyRow converts width samples of row srcY in src, starting at srcX, into
// row dstY of dst starting at dstX.
func copyRow(dst exr.Slice, dstX, dstY int, src exr.Slice, srcX, srcY, width int) {
	switch {
	case src.Type == exr.Half && dst.Type == exr.Float:
		for i := 0; i < width; i++ {
			dst.SetFloat32(dstX+i, dstY, src.Float32(srcX+i, srcY))
		}
	case src.Type == dst.Type && (src.Type == exr.Float || src.Type == exr.Uint):
		if src.XStride == 4 && dst.XStride == 4 {
			s := src.Offset(srcX, srcY)
			d := dst.Offset(dstX, dstY)
			copy(dst.Buf[d:d+4*width], src.Buf[s:s+4*width])
			return
		}
		for i := 0; i < width; i++ {
			s := src.Offset(srcX+i, srcY)
			d := dst.Offset(dstX+i, dstY)
			copy(dst.Buf[d:d+4], src.Buf[s:s+4])
		}
	default:
		panic(fmt.Sprintf("cache: cannot copy %s samples into a %s slice", src.Type, dst.Type))
	}
}

// fillRow writes the fill value of dst to width samples of row y.
func fillRow(dst exr.Slice, x0, y, width int) {
	var pattern [4]byte
	switch dst.Type {
	case exr.Float:
		binary.LittleEndian.PutUint32(pattern[:], math.Float32bits(float32(dst.FillValue)))
	case exr.Uint:
		v := dst.FillValue
		switch {
		case math.IsNaN(v) || v <= 0:
			v = 0
		case v >= math.MaxUint32:
			v = math.MaxUint32
		}
		binary.LittleEndian.PutUint32(pattern[:], uint32(v))
	default:
		panic(fmt.Sprintf("cache: %s slices are not fill targets", dst.Type))
	}
	for i := 0; i < width; i++ {
		d := dst.Offset(x0+i, y)
		copy(dst.Buf[d:d+4], pattern[:])
	}
}

// convertible reports whether FillFrameBuffer can copy src samples into a
// dst slice.
func convertible(src, dst exr.PixelType) bool {
	switch {
	case src == exr.Half && dst == exr.Float:
		return true
	case src == dst && (src == exr.Float || src == exr.Uint):
		return true
	}
	return false
}
