package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/exrcache/exrcache/internal/exr"
)

type synthFlags struct {
	width       int
	height      int
	origin      []int
	displayPad  int
	channels    []string
	pixelType   string
	compression string
	parts       []string
	subsample   []string
	truncate    int
	force       bool
}

func synthCmd() *Command {
	var sf synthFlags
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	fs.IntVarP(&sf.width, "width", "W", 64, "data window width")
	fs.IntVarP(&sf.height, "height", "H", 32, "data window height")
	fs.IntSliceVar(&sf.origin, "origin", []int{0, 0}, "data window origin x,y")
	fs.IntVar(&sf.displayPad, "display-pad", 0, "grow the display window by this many pixels on every side")
	fs.StringSliceVar(&sf.channels, "channels", []string{"R", "G", "B", "A"}, "channels of a single-part file")
	fs.StringVar(&sf.pixelType, "type", "half", "pixel type: half, float or uint")
	fs.StringVar(&sf.compression, "compression", "zip", "compression: none, rle, zips or zip")
	fs.StringArrayVar(&sf.parts, "part", nil, "add a part as name=C1,C2 (repeatable; makes a multi-part file)")
	fs.StringSliceVar(&sf.subsample, "subsample", nil, "channels stored at 2x2 sampling")
	fs.IntVar(&sf.truncate, "truncate", 0, "drop this many bytes from the end to simulate an interrupted write")
	fs.BoolVarP(&sf.force, "force", "f", false, "overwrite an existing file")

	return &Command{
		Flags: fs,
		Usage: "synth [flags] <output.exr>",
		Short: "Write a synthetic scanline EXR",
		Long: "Write a scanline EXR filled with a deterministic pattern. Several --part\n" +
			"flags produce a multi-part file; --subsample and --truncate produce the\n" +
			"subsampled and partial inputs the cache has to cope with.",
		Exec: func(_ context.Context, e *env, args []string) error {
			return execSynth(e, &sf, args)
		},
	}
}

func execSynth(e *env, sf *synthFlags, args []string) error {
	if len(args) != 1 {
		return errors.New("exactly one output file is required")
	}
	path := args[0]
	if !sf.force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists (use --force to overwrite)", path)
		}
	}

	parts, err := sf.build()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := exr.Encode(&buf, parts...); err != nil {
		return err
	}
	data := buf.Bytes()
	if sf.truncate > 0 {
		if sf.truncate >= len(data) {
			return fmt.Errorf("cannot truncate %d of %d bytes", sf.truncate, len(data))
		}
		data = data[:len(data)-sf.truncate]
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	e.logger.Debug("wrote synthetic image", map[string]interface{}{"path": path, "parts": len(parts), "bytes": len(data)})
	fmt.Fprintf(e.out, "%s: %d part(s), %d bytes\n", path, len(parts), len(data))
	return nil
}

func (sf *synthFlags) build() ([]exr.WritePart, error) {
	if sf.width <= 0 || sf.height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", sf.width, sf.height)
	}
	if len(sf.origin) != 2 {
		return nil, fmt.Errorf("--origin needs two values, got %d", len(sf.origin))
	}

	var t exr.PixelType
	switch strings.ToLower(sf.pixelType) {
	case "half":
		t = exr.Half
	case "float":
		t = exr.Float
	case "uint":
		t = exr.Uint
	default:
		return nil, fmt.Errorf("unknown pixel type %q", sf.pixelType)
	}
	compression, err := exr.ParseCompression(strings.ToLower(sf.compression))
	if err != nil {
		return nil, err
	}

	dw := exr.NewBox(sf.origin[0], sf.origin[1], sf.origin[0]+sf.width-1, sf.origin[1]+sf.height-1)
	disp := exr.NewBox(dw.Min.X-sf.displayPad, dw.Min.Y-sf.displayPad, dw.Max.X+sf.displayPad, dw.Max.Y+sf.displayPad)

	type partLayout struct {
		name     string
		channels []string
	}
	layouts := []partLayout{{channels: sf.channels}}
	if len(sf.parts) > 0 {
		layouts = layouts[:0]
		for _, p := range sf.parts {
			name, list, ok := strings.Cut(p, "=")
			if !ok || name == "" || list == "" {
				return nil, fmt.Errorf("invalid --part %q, want name=C1,C2", p)
			}
			layouts = append(layouts, partLayout{name: name, channels: strings.Split(list, ",")})
		}
	}

	subsampled := make(map[string]bool, len(sf.subsample))
	for _, name := range sf.subsample {
		subsampled[name] = true
	}

	parts := make([]exr.WritePart, 0, len(layouts))
	for _, layout := range layouts {
		var channels exr.ChannelList
		for _, name := range layout.channels {
			c := exr.Channel{Name: name, Type: t, XSampling: 1, YSampling: 1}
			if subsampled[name] {
				c.XSampling, c.YSampling = 2, 2
			}
			channels.Insert(c)
		}
		h := exr.NewHeader(dw, disp, channels, compression)
		h.Name = layout.name
		parts = append(parts, exr.WritePart{Header: h, Pixels: patternFrame(h)})
	}
	return parts, nil
}

// synthValue is exactly representable as a half.
func synthValue(channel, x, y int) float32 {
	return float32(((x*3+y*5+channel*7)%64+64)%64) / 8
}

// patternFrame fills every sample of h, packing subsampled channels
// toward the data window's min corner.
func patternFrame(h *exr.Header) *exr.FrameBuffer {
	fb := exr.NewFrameBuffer()
	dw := h.DataWindow
	for ci, c := range h.Channels {
		s := exr.NewSlice(c.Type, dw, 0)
		s.XSampling, s.YSampling = c.XSampling, c.YSampling

		j := 0
		for y := dw.Min.Y; y <= dw.Max.Y; y++ {
			if mod(y, c.YSampling) != 0 {
				continue
			}
			i := 0
			for x := dw.Min.X; x <= dw.Max.X; x++ {
				if mod(x, c.XSampling) != 0 {
					continue
				}
				px, py := dw.Min.X+i, dw.Min.Y+j
				if c.Type == exr.Uint {
					s.SetUint32(px, py, uint32(ci)<<24|uint32(mod(y, 4096))<<12|uint32(mod(x, 4096)))
				} else {
					s.SetFloat32(px, py, synthValue(ci, x, y))
				}
				i++
			}
			j++
		}
		fb.Insert(c.Name, s)
	}
	return fb
}

func mod(a, b int) int {
	return ((a % b) + b) % b
}
