package cache

import "github.com/exrcache/exrcache/internal/exr"

// expandSubsampled spreads a subsampled channel, packed toward the min
// corner of window, over every pixel of window by nearest-neighbour
// duplication. The sweep runs from the max corner back to the min corner
// so each source sample is read before anything overwrites it.
func expandSubsampled(s exr.Slice, window exr.Box2i, xs, ys int) {
	if xs <= 1 && ys <= 1 {
		return
	}
	xs, ys = max(xs, 1), max(ys, 1)
	size := s.Type.Size()

	for y := window.Max.Y; y >= window.Min.Y; y-- {
		sy := window.Min.Y + (y-window.Min.Y)/ys
		for x := window.Max.X; x >= window.Min.X; x-- {
			sx := window.Min.X + (x-window.Min.X)/xs
			if sx == x && sy == y {
				continue
			}
			dst := s.Offset(x, y)
			src := s.Offset(sx, sy)
			copy(s.Buf[dst:dst+size], s.Buf[src:src+size])
		}
	}
}
