package exr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/exrcache/exrcache/pkg/errors"
)

// File layout constants.
const (
	Magic = 20000630

	versionMask     = 0x000000ff
	flagTiled       = 0x00000200
	flagLongNames   = 0x00000400
	flagNonImage    = 0x00000800
	flagMultipart   = 0x00001000
	knownFlags      = flagTiled | flagLongNames | flagNonImage | flagMultipart
	currentVersion  = 2
	maxNameLength   = 255
	maxAttrSize     = 1 << 28
	shortNameLength = 31
)

// Attribute is a header attribute kept verbatim.
type Attribute struct {
	Type  string
	Value []byte
}

// Header describes one part.
type Header struct {
	Name               string
	Type               string
	DataWindow         Box2i
	DisplayWindow      Box2i
	Channels           ChannelList
	Compression        Compression
	LineOrder          LineOrder
	Tiles              *TileDescription
	PixelAspectRatio   float32
	ScreenWindowCenter [2]float32
	ScreenWindowWidth  float32
	ChunkCount         int

	// Attributes not interpreted above.
	Attributes map[string]Attribute
}

// NewHeader returns a scanline header with the required attributes set.
func NewHeader(dataWindow, displayWindow Box2i, channels ChannelList, c Compression) *Header {
	return &Header{
		Type:              ScanlineImage,
		DataWindow:        dataWindow,
		DisplayWindow:     displayWindow,
		Channels:          channels,
		Compression:       c,
		LineOrder:         IncreasingY,
		PixelAspectRatio:  1,
		ScreenWindowWidth: 1,
		Attributes:        make(map[string]Attribute),
	}
}

// HasName reports whether the part carries a name attribute.
func (h *Header) HasName() bool {
	return h.Name != ""
}

// IsDeep reports whether the part stores deep data.
func (h *Header) IsDeep() bool {
	return h.Type == DeepScanline || h.Type == DeepTile
}

// IsTiled reports whether the part stores tiles.
func (h *Header) IsTiled() bool {
	return h.Type == TiledImage || h.Type == DeepTile
}

// LinesPerBlock returns the scanlines per chunk.
func (h *Header) LinesPerBlock() int {
	return h.Compression.LinesPerBlock()
}

// chunkCount returns the number of chunks the offset table holds.
func (h *Header) chunkCount() int {
	if h.ChunkCount > 0 {
		return h.ChunkCount
	}
	if h.IsTiled() {
		if h.Tiles == nil {
			return 0
		}
		return numTiles(h.DataWindow, *h.Tiles)
	}
	lpb := h.LinesPerBlock()
	return (h.DataWindow.Height() + lpb - 1) / lpb
}

// Validate checks the attributes a reader depends on.
func (h *Header) Validate() error {
	if h.DataWindow.IsEmpty() {
		return invalidf("data window %s is empty", h.DataWindow)
	}
	if h.DisplayWindow.IsEmpty() {
		return invalidf("display window %s is empty", h.DisplayWindow)
	}
	if h.IsTiled() && (h.Tiles == nil || h.Tiles.XSize <= 0 || h.Tiles.YSize <= 0) {
		return invalidf("tiled part without a valid tile description")
	}
	for _, c := range h.Channels {
		if !c.Type.valid() {
			return invalidf("channel %q has unknown pixel type %d", c.Name, c.Type)
		}
		if c.XSampling < 1 || c.YSampling < 1 {
			return invalidf("channel %q has invalid sampling %dx%d", c.Name, c.XSampling, c.YSampling)
		}
	}
	return nil
}

func numTiles(dw Box2i, td TileDescription) int {
	w, h := dw.Width(), dw.Height()
	tilesIn := func(size, tile int) int { return (size + tile - 1) / tile }

	switch td.levelMode() {
	case MipmapLevel, RipmapLevel:
		nx := numLevels(w, td.roundingMode())
		ny := numLevels(h, td.roundingMode())
		if td.levelMode() == MipmapLevel {
			n := max(numLevels(max(w, h), td.roundingMode()), 1)
			total := 0
			for l := 0; l < n; l++ {
				total += tilesIn(levelSize(w, l, td.roundingMode()), td.XSize) *
					tilesIn(levelSize(h, l, td.roundingMode()), td.YSize)
			}
			return total
		}
		total := 0
		for ly := 0; ly < ny; ly++ {
			for lx := 0; lx < nx; lx++ {
				total += tilesIn(levelSize(w, lx, td.roundingMode()), td.XSize) *
					tilesIn(levelSize(h, ly, td.roundingMode()), td.YSize)
			}
		}
		return total
	default:
		return tilesIn(w, td.XSize) * tilesIn(h, td.YSize)
	}
}

func numLevels(size, rounding int) int {
	n := 0
	for s := size; ; n++ {
		if s <= 1 {
			return n + 1
		}
		if rounding == 1 {
			s = (s + 1) / 2
		} else {
			s /= 2
		}
	}
}

func levelSize(size, level, rounding int) int {
	for i := 0; i < level; i++ {
		if rounding == 1 {
			size = (size + 1) / 2
		} else {
			size /= 2
		}
	}
	return max(size, 1)
}

// headerReader decodes attributes from a byte slice.
type headerReader struct {
	buf []byte
	pos int
}

func (r *headerReader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return errors.NewError(errors.ErrCodeInputPartial, "header is truncated").WithComponent("exr")
	}
	return nil
}

func (r *headerReader) cstring(limit int) (string, error) {
	end := bytes.IndexByte(r.buf[r.pos:], 0)
	if end < 0 {
		return "", errors.NewError(errors.ErrCodeInputPartial, "header is truncated").WithComponent("exr")
	}
	if end > limit {
		return "", invalidf("attribute name longer than %d bytes", limit)
	}
	s := string(r.buf[r.pos : r.pos+end])
	r.pos += end + 1
	return s, nil
}

func (r *headerReader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *headerReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// readHeader parses attributes up to and including the terminating null.
// An empty header (a lone null) returns nil.
func (r *headerReader) readHeader(nameLimit int, singlePartFlags int32) (*Header, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	if r.buf[r.pos] == 0 {
		r.pos++
		return nil, nil
	}

	h := &Header{
		PixelAspectRatio:  1,
		ScreenWindowWidth: 1,
		Attributes:        make(map[string]Attribute),
	}
	seen := map[string]bool{}

	for {
		if err := r.need(1); err != nil {
			return nil, err
		}
		if r.buf[r.pos] == 0 {
			r.pos++
			break
		}

		name, err := r.cstring(nameLimit)
		if err != nil {
			return nil, err
		}
		typ, err := r.cstring(nameLimit)
		if err != nil {
			return nil, err
		}
		size, err := r.int32()
		if err != nil {
			return nil, err
		}
		if size < 0 || size > maxAttrSize {
			return nil, invalidf("attribute %q has invalid size %d", name, size)
		}
		value, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}

		if err := h.setAttribute(name, typ, value); err != nil {
			return nil, err
		}
		seen[name] = true
	}

	for _, required := range []string{"channels", "compression", "dataWindow", "displayWindow"} {
		if !seen[required] {
			return nil, invalidf("missing required attribute %q", required)
		}
	}

	if h.Type == "" {
		switch {
		case singlePartFlags&flagNonImage != 0 && singlePartFlags&flagTiled != 0:
			h.Type = DeepTile
		case singlePartFlags&flagNonImage != 0:
			h.Type = DeepScanline
		case singlePartFlags&flagTiled != 0:
			h.Type = TiledImage
		default:
			h.Type = ScanlineImage
		}
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) setAttribute(name, typ string, v []byte) error {
	le := binary.LittleEndian
	want := func(n int) error {
		if len(v) != n {
			return invalidf("attribute %q of type %s has %d bytes, want %d", name, typ, len(v), n)
		}
		return nil
	}

	switch {
	case name == "channels" && typ == "chlist":
		channels, err := parseChannelList(v)
		if err != nil {
			return err
		}
		h.Channels = channels
	case name == "compression" && typ == "compression":
		if err := want(1); err != nil {
			return err
		}
		h.Compression = Compression(v[0])
	case (name == "dataWindow" || name == "displayWindow") && typ == "box2i":
		if err := want(16); err != nil {
			return err
		}
		box := NewBox(
			int(int32(le.Uint32(v[0:]))), int(int32(le.Uint32(v[4:]))),
			int(int32(le.Uint32(v[8:]))), int(int32(le.Uint32(v[12:]))),
		)
		if name == "dataWindow" {
			h.DataWindow = box
		} else {
			h.DisplayWindow = box
		}
	case name == "lineOrder" && typ == "lineOrder":
		if err := want(1); err != nil {
			return err
		}
		h.LineOrder = LineOrder(v[0])
	case name == "pixelAspectRatio" && typ == "float":
		if err := want(4); err != nil {
			return err
		}
		h.PixelAspectRatio = math.Float32frombits(le.Uint32(v))
	case name == "screenWindowCenter" && typ == "v2f":
		if err := want(8); err != nil {
			return err
		}
		h.ScreenWindowCenter = [2]float32{math.Float32frombits(le.Uint32(v)), math.Float32frombits(le.Uint32(v[4:]))}
	case name == "screenWindowWidth" && typ == "float":
		if err := want(4); err != nil {
			return err
		}
		h.ScreenWindowWidth = math.Float32frombits(le.Uint32(v))
	case name == "tiles" && typ == "tiledesc":
		if err := want(9); err != nil {
			return err
		}
		h.Tiles = &TileDescription{
			XSize: int(le.Uint32(v)),
			YSize: int(le.Uint32(v[4:])),
			Mode:  v[8],
		}
	case name == "name" && typ == "string":
		h.Name = string(v)
	case name == "type" && typ == "string":
		h.Type = string(v)
	case name == "chunkCount" && typ == "int":
		if err := want(4); err != nil {
			return err
		}
		h.ChunkCount = int(int32(le.Uint32(v)))
		if h.ChunkCount < 0 {
			return invalidf("negative chunkCount %d", h.ChunkCount)
		}
	default:
		h.Attributes[name] = Attribute{Type: typ, Value: append([]byte(nil), v...)}
	}
	return nil
}

func parseChannelList(v []byte) (ChannelList, error) {
	r := &headerReader{buf: v}
	var list ChannelList
	for {
		if err := r.need(1); err != nil {
			return nil, err
		}
		if r.buf[r.pos] == 0 {
			return list, nil
		}
		name, err := r.cstring(maxNameLength)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, invalidf("channel with empty name")
		}
		fields, err := r.bytes(16)
		if err != nil {
			return nil, err
		}
		list.Insert(Channel{
			Name:      name,
			Type:      PixelType(int32(binary.LittleEndian.Uint32(fields[0:]))),
			PLinear:   fields[4] != 0,
			XSampling: int(int32(binary.LittleEndian.Uint32(fields[8:]))),
			YSampling: int(int32(binary.LittleEndian.Uint32(fields[12:]))),
		})
	}
}

// headerWriter encodes attributes.
type headerWriter struct {
	buf bytes.Buffer
}

func (w *headerWriter) attr(name, typ string, value []byte) {
	w.buf.WriteString(name)
	w.buf.WriteByte(0)
	w.buf.WriteString(typ)
	w.buf.WriteByte(0)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(value)))
	w.buf.Write(size[:])
	w.buf.Write(value)
}

func (w *headerWriter) writeHeader(h *Header, multipart bool) {
	le := binary.LittleEndian

	var chlist bytes.Buffer
	for _, c := range h.Channels {
		chlist.WriteString(c.Name)
		chlist.WriteByte(0)
		var fields [16]byte
		le.PutUint32(fields[0:], uint32(c.Type))
		if c.PLinear {
			fields[4] = 1
		}
		le.PutUint32(fields[8:], uint32(max(c.XSampling, 1)))
		le.PutUint32(fields[12:], uint32(max(c.YSampling, 1)))
		chlist.Write(fields[:])
	}
	chlist.WriteByte(0)

	box := func(b Box2i) []byte {
		out := make([]byte, 16)
		le.PutUint32(out[0:], uint32(int32(b.Min.X)))
		le.PutUint32(out[4:], uint32(int32(b.Min.Y)))
		le.PutUint32(out[8:], uint32(int32(b.Max.X)))
		le.PutUint32(out[12:], uint32(int32(b.Max.Y)))
		return out
	}
	f32 := func(vs ...float32) []byte {
		out := make([]byte, 4*len(vs))
		for i, v := range vs {
			le.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	}
	i32 := func(v int) []byte {
		out := make([]byte, 4)
		le.PutUint32(out, uint32(int32(v)))
		return out
	}

	w.attr("channels", "chlist", chlist.Bytes())
	if multipart {
		w.attr("chunkCount", "int", i32(h.chunkCount()))
	}
	w.attr("compression", "compression", []byte{byte(h.Compression)})
	w.attr("dataWindow", "box2i", box(h.DataWindow))
	w.attr("displayWindow", "box2i", box(h.DisplayWindow))
	w.attr("lineOrder", "lineOrder", []byte{byte(h.LineOrder)})
	if h.Name != "" {
		w.attr("name", "string", []byte(h.Name))
	}
	w.attr("pixelAspectRatio", "float", f32(h.PixelAspectRatio))
	w.attr("screenWindowCenter", "v2f", f32(h.ScreenWindowCenter[0], h.ScreenWindowCenter[1]))
	w.attr("screenWindowWidth", "float", f32(h.ScreenWindowWidth))
	if h.Tiles != nil {
		td := make([]byte, 9)
		le.PutUint32(td[0:], uint32(h.Tiles.XSize))
		le.PutUint32(td[4:], uint32(h.Tiles.YSize))
		td[8] = h.Tiles.Mode
		w.attr("tiles", "tiledesc", td)
	}
	if multipart || h.IsDeep() {
		w.attr("type", "string", []byte(h.Type))
	}

	names := make([]string, 0, len(h.Attributes))
	for name := range h.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := h.Attributes[name]
		w.attr(name, a.Type, a.Value)
	}
	w.buf.WriteByte(0)
}

func (h *Header) needsLongNames() bool {
	if len(h.Name) > shortNameLength {
		return true
	}
	for _, c := range h.Channels {
		if len(c.Name) > shortNameLength {
			return true
		}
	}
	for name, a := range h.Attributes {
		if len(name) > shortNameLength || len(a.Type) > shortNameLength {
			return true
		}
	}
	return false
}

func invalidf(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeFormatInvalid, format, args...).WithComponent("exr")
}

func unsupportedf(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeFormatUnsupported, format, args...).WithComponent("exr")
}

func (h *Header) String() string {
	name := h.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("%s %s data=%s display=%s %s channels=%d", name, h.Type, h.DataWindow, h.DisplayWindow, h.Compression, len(h.Channels))
}
