package cache

import (
	"context"

	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/pkg/types"
	"github.com/exrcache/exrcache/pkg/utils"
)

// ReadDirect reads r straight into fb without caching. fb is addressed in
// image coordinates and must cover r's data window. Slices for channels r
// does not have are set to their fill value first. Subsampled channels
// read into 1:1 slices are expanded after the read. A partial file leaves
// the rows it could not reach untouched and is not an error.
func ReadDirect(ctx context.Context, r Reader, fb *exr.FrameBuffer, threads int, progress types.ProgressFunc, logger *utils.StructuredLogger) error {
	dw := r.DataWindow()
	channels := r.Channels()

	type expansion struct {
		slice  exr.Slice
		window exr.Box2i
		xs, ys int
	}
	var expand []expansion

	readFB := exr.NewFrameBuffer()
	for _, name := range fb.Names() {
		s, _ := fb.Get(name)
		c, ok := channels.Find(name)
		if !ok {
			for y := dw.Min.Y; y <= dw.Max.Y; y++ {
				for x := dw.Min.X; x <= dw.Max.X; x++ {
					s.Fill(x, y)
				}
			}
			readFB.Insert(name, s)
			continue
		}
		xs, ys := s.Sampling()
		if (c.XSampling != 1 || c.YSampling != 1) && xs == 1 && ys == 1 {
			s.XSampling, s.YSampling = c.XSampling, c.YSampling
			expand = append(expand, expansion{slice: s, window: r.ChannelWindow(name), xs: c.XSampling, ys: c.YSampling})
		}
		readFB.Insert(name, s)
	}

	r.SetFrameBuffer(readFB)
	block := ScanlineBlockSize(r.Header(0), dw, r.DisplayWindow(), threads)
	if err := decodeBlocks(ctx, r, dw, block, progress, logger); err != nil {
		return err
	}

	for _, x := range expand {
		expandSubsampled(x.slice, x.window, x.xs, x.ys)
	}
	return nil
}
