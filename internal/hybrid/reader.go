// Package hybrid presents the parts of a multi-part EXR file as one image
// with a single flat channel namespace.
package hybrid

import (
	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Options control how a file is opened.
type Options struct {
	// RenameFirstPart prefixes the first part's channels with its name as
	// well, when the file has more than one part.
	RenameFirstPart bool

	// Threads bounds concurrent chunk decoding within one part.
	Threads int

	// ReconstructOffsets repairs offset tables of interrupted writes.
	ReconstructOffsets bool

	Logger *utils.StructuredLogger
}

// BindingKind tells whether a frame buffer slice is read from a part.
type BindingKind int

const (
	// Deferred slices are never populated by the reader; the caller owns
	// their contents.
	Deferred BindingKind = iota
	// Bound slices are read from one channel of one part.
	Bound
)

// Binding resolves an exposed channel name.
type Binding struct {
	Kind BindingKind
	Part int
	Name string
}

// Reader is an open hybrid view of a file.
type Reader struct {
	file          *exr.File
	parts         []int
	channels      exr.ChannelList
	bindings      map[string]Binding
	dataWindow    exr.Box2i
	displayWindow exr.Box2i
	frameBuffer   *exr.FrameBuffer
	logger        *utils.StructuredLogger
}

// Open parses src and builds the channel map.
func Open(src exr.Source, opts Options) (*Reader, error) {
	file, err := exr.Open(src, exr.Options{
		Threads:            opts.Threads,
		ReconstructOffsets: opts.ReconstructOffsets,
		Logger:             opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewReader(file, opts)
}

// NewReader builds the hybrid view of an already open file. Deep tiled
// parts are skipped; a file made only of them is rejected.
func NewReader(file *exr.File, opts Options) (*Reader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	r := &Reader{
		file:          file,
		bindings:      make(map[string]Binding),
		dataWindow:    exr.EmptyBox,
		displayWindow: exr.EmptyBox,
		frameBuffer:   exr.NewFrameBuffer(),
		logger:        logger.WithComponent("hybrid"),
	}

	multipart := file.Parts() > 1
	for i := 0; i < file.Parts(); i++ {
		h := file.Part(i).Header()
		if h.Type == exr.DeepTile {
			r.logger.Debug("skipping deep tiled part", map[string]interface{}{"part": i, "name": h.Name})
			continue
		}
		r.parts = append(r.parts, i)
		r.dataWindow = r.dataWindow.Extend(h.DataWindow)
		r.displayWindow = r.displayWindow.Extend(h.DisplayWindow)

		rename := multipart && (i > 0 || opts.RenameFirstPart) && h.HasName()
		for _, c := range h.Channels {
			exposed := c.Name
			if rename {
				exposed = h.Name + "." + c.Name
			}
			r.bindings[exposed] = Binding{Kind: Bound, Part: i, Name: c.Name}
			c.Name = exposed
			r.channels.Insert(c)
		}
	}

	if len(r.channels) == 0 {
		return nil, errors.NewError(errors.ErrCodeFormatUnsupported, "file has no channels outside deep tiled parts").
			WithComponent("hybrid").
			WithOperation("open")
	}
	return r, nil
}

// Parts returns the number of parts in the file, including skipped ones.
func (r *Reader) Parts() int { return r.file.Parts() }

// Header returns the header of part i.
func (r *Reader) Header(i int) *exr.Header { return r.file.Part(i).Header() }

// DataWindow is the union of the data windows of all readable parts.
func (r *Reader) DataWindow() exr.Box2i { return r.dataWindow }

// DisplayWindow is the union of the display windows of all readable parts.
func (r *Reader) DisplayWindow() exr.Box2i { return r.displayWindow }

// Channels returns the exposed channel list.
func (r *Reader) Channels() exr.ChannelList { return r.channels }

// IsComplete reports whether every part has all of its chunks.
func (r *Reader) IsComplete() bool { return r.file.IsComplete() }

// Resolve maps an exposed channel name to its source.
func (r *Reader) Resolve(name string) Binding {
	if b, ok := r.bindings[name]; ok {
		return b
	}
	return Binding{Kind: Deferred}
}

// ChannelWindow returns the data window of the part that owns the exposed
// channel name, or the union window for a deferred name.
func (r *Reader) ChannelWindow(name string) exr.Box2i {
	b := r.Resolve(name)
	if b.Kind == Deferred {
		return r.dataWindow
	}
	return r.file.Part(b.Part).Header().DataWindow
}

// SetFrameBuffer sets the destination of subsequent ReadPixels calls.
func (r *Reader) SetFrameBuffer(fb *exr.FrameBuffer) {
	r.frameBuffer = fb
}

// FrameBuffer returns the active destination.
func (r *Reader) FrameBuffer() *exr.FrameBuffer { return r.frameBuffer }

// ReadPixels reads rows y1..y2 of every bound slice from the part that owns
// it. Each part only decodes the rows its own data window covers. Deferred
// slices are left untouched.
func (r *Reader) ReadPixels(y1, y2 int) error {
	if y1 > y2 {
		y1, y2 = y2, y1
	}

	perPart := make(map[int]*exr.FrameBuffer)
	for _, name := range r.frameBuffer.Names() {
		b := r.Resolve(name)
		if b.Kind == Deferred {
			continue
		}
		fb, ok := perPart[b.Part]
		if !ok {
			fb = exr.NewFrameBuffer()
			perPart[b.Part] = fb
		}
		s, _ := r.frameBuffer.Get(name)
		fb.Insert(b.Name, s)
	}

	for _, i := range r.parts {
		fb, ok := perPart[i]
		if !ok {
			continue
		}
		part := r.file.Part(i)
		dw := part.Header().DataWindow
		lo, hi := max(y1, dw.Min.Y), min(y2, dw.Max.Y)
		if lo > hi {
			continue
		}
		if err := part.ReadPixels(fb, lo, hi); err != nil {
			return err
		}
	}
	return nil
}
