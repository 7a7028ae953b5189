package exr

import (
	"fmt"
	"sort"
)

// PixelType is the storage type of one channel.
type PixelType int32

const (
	Uint  PixelType = 0
	Half  PixelType = 1
	Float PixelType = 2
)

// Size returns the number of bytes per sample.
func (t PixelType) Size() int {
	if t == Half {
		return 2
	}
	return 4
}

func (t PixelType) String() string {
	switch t {
	case Uint:
		return "uint"
	case Half:
		return "half"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("pixeltype(%d)", int32(t))
	}
}

func (t PixelType) valid() bool {
	return t == Uint || t == Half || t == Float
}

// Compression identifies the chunk compression scheme of a part.
type Compression uint8

const (
	NoCompression    Compression = 0
	RLECompression   Compression = 1
	ZIPSCompression  Compression = 2
	ZIPCompression   Compression = 3
	PIZCompression   Compression = 4
	PXR24Compression Compression = 5
	B44Compression   Compression = 6
	B44ACompression  Compression = 7
	DWAACompression  Compression = 8
	DWABCompression  Compression = 9
)

var compressionNames = map[Compression]string{
	NoCompression:    "none",
	RLECompression:   "rle",
	ZIPSCompression:  "zips",
	ZIPCompression:   "zip",
	PIZCompression:   "piz",
	PXR24Compression: "pxr24",
	B44Compression:   "b44",
	B44ACompression:  "b44a",
	DWAACompression:  "dwaa",
	DWABCompression:  "dwab",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression maps a lowercase scheme name back to its value.
func ParseCompression(name string) (Compression, error) {
	for c, n := range compressionNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// LinesPerBlock is the number of scanlines the scheme packs per chunk.
func (c Compression) LinesPerBlock() int {
	switch c {
	case ZIPCompression, PXR24Compression:
		return 16
	case PIZCompression, B44Compression, B44ACompression, DWAACompression:
		return 32
	case DWABCompression:
		return 256
	default:
		return 1
	}
}

// Decodable reports whether chunks using c can be decompressed here.
func (c Compression) Decodable() bool {
	switch c {
	case NoCompression, RLECompression, ZIPSCompression, ZIPCompression:
		return true
	default:
		return false
	}
}

// LineOrder is the order in which scanline chunks were written.
type LineOrder uint8

const (
	IncreasingY LineOrder = 0
	DecreasingY LineOrder = 1
	RandomY     LineOrder = 2
)

// Part types as stored in the "type" attribute.
const (
	ScanlineImage = "scanlineimage"
	TiledImage    = "tiledimage"
	DeepScanline  = "deepscanline"
	DeepTile      = "deeptile"
)

// V2i is an integer point.
type V2i struct {
	X, Y int
}

// Box2i is an inclusive integer rectangle.
type Box2i struct {
	Min, Max V2i
}

// NewBox returns the box spanning (x0,y0)..(x1,y1) inclusive.
func NewBox(x0, y0, x1, y1 int) Box2i {
	return Box2i{Min: V2i{x0, y0}, Max: V2i{x1, y1}}
}

func (b Box2i) Width() int  { return b.Max.X - b.Min.X + 1 }
func (b Box2i) Height() int { return b.Max.Y - b.Min.Y + 1 }

// IsEmpty reports whether the box contains no pixels.
func (b Box2i) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y
}

// Extend returns the smallest box containing both b and o. An empty b is
// replaced by o.
func (b Box2i) Extend(o Box2i) Box2i {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	return Box2i{
		Min: V2i{min(b.Min.X, o.Min.X), min(b.Min.Y, o.Min.Y)},
		Max: V2i{max(b.Max.X, o.Max.X), max(b.Max.Y, o.Max.Y)},
	}
}

func (b Box2i) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
}

// EmptyBox is the identity for Extend.
var EmptyBox = Box2i{Min: V2i{1, 1}, Max: V2i{0, 0}}

// Channel describes one channel of a part.
type Channel struct {
	Name      string
	Type      PixelType
	PLinear   bool
	XSampling int
	YSampling int
}

// ChannelList is kept sorted by name, the order channels appear in chunks.
type ChannelList []Channel

// Insert adds or replaces a channel, keeping the list sorted.
func (l *ChannelList) Insert(c Channel) {
	if c.XSampling == 0 {
		c.XSampling = 1
	}
	if c.YSampling == 0 {
		c.YSampling = 1
	}
	i := sort.Search(len(*l), func(i int) bool { return (*l)[i].Name >= c.Name })
	if i < len(*l) && (*l)[i].Name == c.Name {
		(*l)[i] = c
		return
	}
	*l = append(*l, Channel{})
	copy((*l)[i+1:], (*l)[i:])
	(*l)[i] = c
}

// Find returns the named channel.
func (l ChannelList) Find(name string) (Channel, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].Name >= name })
	if i < len(l) && l[i].Name == name {
		return l[i], true
	}
	return Channel{}, false
}

// Names returns the channel names in order.
func (l ChannelList) Names() []string {
	names := make([]string, len(l))
	for i, c := range l {
		names[i] = c.Name
	}
	return names
}

// TileDescription is the "tiles" attribute of a tiled part.
type TileDescription struct {
	XSize, YSize int
	Mode         uint8 // level mode in the low nibble, rounding mode in the high
}

const (
	OneLevel    = 0
	MipmapLevel = 1
	RipmapLevel = 2
)

func (td TileDescription) levelMode() int    { return int(td.Mode & 0x0f) }
func (td TileDescription) roundingMode() int { return int(td.Mode >> 4) }

// numSamples counts the multiples of s in [a, b].
func numSamples(s, a, b int) int {
	return floorDiv(b, s) - floorDiv(a-1, s)
}

// firstSample returns the smallest multiple of s that is >= a.
func firstSample(a, s int) int {
	return -floorDiv(-a, s) * s
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isSampled(v, s int) bool {
	return v-floorDiv(v, s)*s == 0
}
