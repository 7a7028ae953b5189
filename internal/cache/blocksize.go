package cache

import "github.com/exrcache/exrcache/internal/exr"

const (
	defaultBlockRows = 32
	dwabBlockRows    = 256
)

// ScanlineBlockSize returns how many rows to request per ranged read. h is
// the header of the first part; dataWindow and displayWindow are the
// windows of the whole image.
func ScanlineBlockSize(h *exr.Header, dataWindow, displayWindow exr.Box2i, threads int) int {
	rows := defaultBlockRows
	if h.Compression == exr.DWABCompression {
		rows = dwabBlockRows
	}
	rows *= max(threads, 1)

	if h.IsTiled() && h.Tiles != nil && h.Tiles.YSize > 0 {
		ty := h.Tiles.YSize
		rows = (rows + ty - 1) / ty * ty
	}
	if dataWindow != displayWindow {
		rows *= 2
	}
	return rows
}
