package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/pkg/errors"
)

func TestReadDirect_FillsAbsentChannels(t *testing.T) {
	r := newFakeReader(4, 3, halfChannel("R"), halfChannel("G"))
	window := r.DataWindow()

	fb := DisplayFrameBuffer(r.Channels(), window, "G", "A", "Z")
	require.NoError(t, ReadDirect(context.Background(), r, fb, 1, nil, nil))

	g, _ := fb.Get("G")
	a, _ := fb.Get("A")
	z, _ := fb.Get("Z")
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, channelValue(0, x, y), g.Float32(x, y))
			assert.Equal(t, float32(1), a.Float32(x, y))
			assert.Equal(t, float32(0), z.Float32(x, y))
		}
	}
}

func TestReadDirect_ExpandsSubsampledChannels(t *testing.T) {
	r := newFakeReader(5, 4, exr.Channel{Name: "C", Type: exr.Half, XSampling: 2, YSampling: 1})
	window := r.DataWindow()

	fb := DisplayFrameBuffer(r.Channels(), window, "C")
	require.NoError(t, ReadDirect(context.Background(), r, fb, 2, nil, nil))

	c, _ := fb.Get("C")
	assert.Equal(t, 1, c.XSampling, "caller's slice keeps its sampling")
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, channelValue(0, x/2*2, y), c.Float32(x, y), "at (%d,%d)", x, y)
		}
	}
}

func TestReadDirect_SubsampledChannelInOffsetPart(t *testing.T) {
	r := offsetChromaFile(t)

	fb := DisplayFrameBuffer(r.Channels(), r.DataWindow(), "chroma.RY")
	require.NoError(t, ReadDirect(context.Background(), r, fb, 1, nil, nil))

	ry, _ := fb.Get("chroma.RY")
	assertOffsetChroma(t, ry)
}

func TestReadDirect_MatchesCachedFill(t *testing.T) {
	r := newFakeReader(6, 40, halfChannel("B"), floatChannel("Z"), uintChannel("id"))
	window := r.DataWindow()
	names := []string{"B", "Z", "id", "A"}

	direct := DisplayFrameBuffer(r.Channels(), window, names...)
	require.NoError(t, ReadDirect(context.Background(), r, direct, 1, nil, nil))

	e := buildEntry(t, r, newFakeClock(), nil)
	cached := DisplayFrameBuffer(r.Channels(), window, names...)
	require.NoError(t, e.FillFrameBuffer(cached, window))

	for _, name := range names {
		a, _ := direct.Get(name)
		b, _ := cached.Get(name)
		assert.Equal(t, a.Buf, b.Buf, name)
	}
}

func TestReadDirect_PartialFile(t *testing.T) {
	r := newFakeReader(2, 50, floatChannel("Z"))
	r.failFrom = 10

	var last int
	fb := DisplayFrameBuffer(r.Channels(), r.DataWindow(), "Z")
	require.NoError(t, ReadDirect(context.Background(), r, fb, 1, func(done, _ int) { last = done }, nil))

	z, _ := fb.Get("Z")
	assert.Equal(t, channelValue(0, 1, 9), z.Float32(1, 9))
	assert.Equal(t, float32(0), z.Float32(1, 10))
	assert.Zero(t, last, "no block completed")
}

func TestReadDirect_Cancellation(t *testing.T) {
	r := newFakeReader(2, 50, floatChannel("Z"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fb := DisplayFrameBuffer(r.Channels(), r.DataWindow(), "Z")
	err := ReadDirect(ctx, r, fb, 1, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCanceled(err))
	assert.Equal(t, 1, r.readCount())
}

func TestReadDirect_ReaderErrors(t *testing.T) {
	r := newFakeReader(2, 2, floatChannel("Z"))
	r.err = errors.NewError(errors.ErrCodeFormatUnsupported, "tiled part")

	fb := DisplayFrameBuffer(r.Channels(), r.DataWindow(), "Z")
	assert.True(t, errors.IsFormatUnsupported(ReadDirect(context.Background(), r, fb, 1, nil, nil)))
}
