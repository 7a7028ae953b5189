package exr

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/exrcache/exrcache/pkg/errors"
)

// decompress expands one chunk into out, which has the exact uncompressed
// size. A chunk whose packed size is not smaller than the uncompressed size
// is stored raw.
func decompress(c Compression, packed, out []byte) error {
	if len(packed) >= len(out) {
		if len(packed) != len(out) {
			return corruptf("stored chunk is %d bytes, want %d", len(packed), len(out))
		}
		copy(out, packed)
		return nil
	}

	switch c {
	case NoCompression:
		return corruptf("uncompressed chunk is %d bytes, want %d", len(packed), len(out))
	case RLECompression:
		tmp := make([]byte, len(out))
		if err := rleDecompress(packed, tmp); err != nil {
			return err
		}
		undoPredictor(tmp)
		deinterleave(tmp, out)
		return nil
	case ZIPSCompression, ZIPCompression:
		tmp := make([]byte, len(out))
		if err := zipDecompress(packed, tmp); err != nil {
			return err
		}
		undoPredictor(tmp)
		deinterleave(tmp, out)
		return nil
	default:
		return errors.Newf(errors.ErrCodeFormatUnsupported, "%s compression is not supported", c).
			WithComponent("exr").
			WithOperation("decompress")
	}
}

// compress packs one chunk. The result is raw whenever compression would
// not make it smaller.
func compress(c Compression, raw []byte) ([]byte, error) {
	if c == NoCompression || len(raw) == 0 {
		return raw, nil
	}

	tmp := make([]byte, len(raw))
	interleave(raw, tmp)
	applyPredictor(tmp)

	var packed []byte
	switch c {
	case RLECompression:
		packed = rleCompress(tmp)
	case ZIPSCompression, ZIPCompression:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(tmp); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		packed = buf.Bytes()
	default:
		return nil, errors.Newf(errors.ErrCodeFormatUnsupported, "%s compression is not supported for writing", c).
			WithComponent("exr").
			WithOperation("compress")
	}

	if len(packed) >= len(raw) {
		return raw, nil
	}
	return packed, nil
}

func zipDecompress(packed, out []byte) error {
	zr, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInputCorrupt, "bad zlib stream").WithComponent("exr")
	}
	defer zr.Close()

	if _, err := io.ReadFull(zr, out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInputCorrupt, "short zlib stream").WithComponent("exr")
	}
	return nil
}

// rleDecompress reads (count, byte) runs and (-count, bytes...) literals.
func rleDecompress(in, out []byte) error {
	o := 0
	for len(in) > 0 {
		n := int(int8(in[0]))
		if n < 0 {
			count := -n
			if len(in) < 1+count || o+count > len(out) {
				return corruptf("rle literal overruns chunk")
			}
			copy(out[o:], in[1:1+count])
			o += count
			in = in[1+count:]
			continue
		}

		count := n + 1
		if len(in) < 2 || o+count > len(out) {
			return corruptf("rle run overruns chunk")
		}
		v := in[1]
		for i := 0; i < count; i++ {
			out[o+i] = v
		}
		o += count
		in = in[2:]
	}

	if o != len(out) {
		return corruptf("rle chunk expands to %d bytes, want %d", o, len(out))
	}
	return nil
}

const (
	rleMinRun = 3
	rleMaxRun = 127
)

func rleCompress(in []byte) []byte {
	out := make([]byte, 0, len(in)+len(in)/rleMaxRun+1)

	runStart := 0
	for runStart < len(in) {
		runEnd := runStart + 1
		for runEnd < len(in) && in[runEnd] == in[runStart] && runEnd-runStart-1 < rleMaxRun {
			runEnd++
		}

		if runEnd-runStart >= rleMinRun {
			out = append(out, byte(runEnd-runStart-1), in[runStart])
			runStart = runEnd
			continue
		}

		// literal run until the next compressible run
		for runEnd < len(in) &&
			((runEnd+1 >= len(in)) || in[runEnd] != in[runEnd+1] ||
				(runEnd+2 >= len(in)) || in[runEnd+1] != in[runEnd+2]) &&
			runEnd-runStart < rleMaxRun {
			runEnd++
		}
		out = append(out, byte(int8(runStart-runEnd)))
		out = append(out, in[runStart:runEnd]...)
		runStart = runEnd
	}
	return out
}

func undoPredictor(t []byte) {
	for i := 1; i < len(t); i++ {
		t[i] = byte(int(t[i-1]) + int(t[i]) - 128)
	}
}

func applyPredictor(t []byte) {
	if len(t) == 0 {
		return
	}
	p := t[0]
	for i := 1; i < len(t); i++ {
		d := byte(int(t[i]) - int(p) + 128)
		p = t[i]
		t[i] = d
	}
}

// deinterleave spreads the first half of in over the even bytes of out and
// the second half over the odd bytes.
func deinterleave(in, out []byte) {
	half := (len(in) + 1) / 2
	for i := range out {
		if i%2 == 0 {
			out[i] = in[i/2]
		} else {
			out[i] = in[half+i/2]
		}
	}
}

func interleave(in, out []byte) {
	half := (len(in) + 1) / 2
	for i := range in {
		if i%2 == 0 {
			out[i/2] = in[i]
		} else {
			out[half+i/2] = in[i]
		}
	}
}

func corruptf(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInputCorrupt, format, args...).WithComponent("exr")
}
