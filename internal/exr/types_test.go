package exr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelList_InsertKeepsOrder(t *testing.T) {
	var list ChannelList
	list.Insert(Channel{Name: "Z", Type: Float})
	list.Insert(Channel{Name: "B", Type: Half})
	list.Insert(Channel{Name: "R", Type: Half})
	list.Insert(Channel{Name: "B", Type: Float})

	assert.Equal(t, []string{"B", "R", "Z"}, list.Names())

	b, ok := list.Find("B")
	require.True(t, ok)
	assert.Equal(t, Float, b.Type)
	assert.Equal(t, 1, b.XSampling, "zero sampling defaults to 1")

	_, ok = list.Find("A")
	assert.False(t, ok)
}

func TestBox2i(t *testing.T) {
	a := NewBox(0, 0, 9, 4)
	assert.Equal(t, 10, a.Width())
	assert.Equal(t, 5, a.Height())
	assert.False(t, a.IsEmpty())
	assert.True(t, EmptyBox.IsEmpty())

	assert.Equal(t, a, EmptyBox.Extend(a))
	assert.Equal(t, NewBox(-2, 0, 9, 7), a.Extend(NewBox(-2, 3, 1, 7)))
}

func TestCompression_LinesPerBlock(t *testing.T) {
	tests := []struct {
		c    Compression
		want int
	}{
		{NoCompression, 1},
		{RLECompression, 1},
		{ZIPSCompression, 1},
		{ZIPCompression, 16},
		{PXR24Compression, 16},
		{PIZCompression, 32},
		{B44Compression, 32},
		{B44ACompression, 32},
		{DWAACompression, 32},
		{DWABCompression, 256},
	}
	for _, tt := range tests {
		t.Run(tt.c.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.LinesPerBlock())
		})
	}

	c, err := ParseCompression("zips")
	require.NoError(t, err)
	assert.Equal(t, ZIPSCompression, c)
	_, err = ParseCompression("jpeg")
	assert.Error(t, err)
}

func TestSampleHelpers(t *testing.T) {
	assert.Equal(t, 4, numSamples(2, 0, 7))
	assert.Equal(t, 4, numSamples(2, 0, 6))
	assert.Equal(t, 2, numSamples(2, -3, 0))
	assert.Equal(t, 0, firstSample(-1, 2))
	assert.Equal(t, -2, firstSample(-3, 2))
	assert.True(t, isSampled(-4, 2))
	assert.False(t, isSampled(-3, 2))
}

func TestNumTiles(t *testing.T) {
	dw := NewBox(0, 0, 99, 49)
	assert.Equal(t, 4*2, numTiles(dw, TileDescription{XSize: 32, YSize: 32, Mode: OneLevel}))
	// 100x50, 50x25, 25x12, 12x6, 6x3, 3x1, 1x1
	assert.Equal(t, 8+2+1+1+1+1+1, numTiles(dw, TileDescription{XSize: 32, YSize: 32, Mode: MipmapLevel}))
}
