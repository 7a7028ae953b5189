package cache

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exrcache/exrcache/internal/exr"
	"github.com/exrcache/exrcache/internal/hybrid"
	"github.com/exrcache/exrcache/internal/stream"
	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/types"
)

// fakeClock is a settable pool clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeReader produces channelValue for every sample and can fail or block
// at chosen rows.
type fakeReader struct {
	dw, display exr.Box2i
	header      *exr.Header
	channels    exr.ChannelList
	fb          *exr.FrameBuffer

	failFrom int   // rows at or past this return INPUT_PARTIAL; -1 disables
	err      error // returned by every read
	onRead   func(y1, y2 int)

	mu    sync.Mutex
	reads int
}

func newFakeReader(width, height int, channels ...exr.Channel) *fakeReader {
	var list exr.ChannelList
	for _, c := range channels {
		list.Insert(c)
	}
	dw := exr.NewBox(0, 0, width-1, height-1)
	return &fakeReader{
		dw:       dw,
		display:  dw,
		header:   exr.NewHeader(dw, dw, list, exr.NoCompression),
		channels: list,
		fb:       exr.NewFrameBuffer(),
		failFrom: -1,
	}
}

func halfChannel(name string) exr.Channel {
	return exr.Channel{Name: name, Type: exr.Half, XSampling: 1, YSampling: 1}
}

func floatChannel(name string) exr.Channel {
	return exr.Channel{Name: name, Type: exr.Float, XSampling: 1, YSampling: 1}
}

func uintChannel(name string) exr.Channel {
	return exr.Channel{Name: name, Type: exr.Uint, XSampling: 1, YSampling: 1}
}

// channelValue is exact in half precision for the image sizes used here.
func channelValue(index, x, y int) float32 {
	return float32(index*256 + y*16 + x%16)
}

func (f *fakeReader) DataWindow() exr.Box2i              { return f.dw }
func (f *fakeReader) DisplayWindow() exr.Box2i           { return f.display }
func (f *fakeReader) Channels() exr.ChannelList          { return f.channels }
func (f *fakeReader) ChannelWindow(string) exr.Box2i     { return f.dw }
func (f *fakeReader) Header(int) *exr.Header             { return f.header }
func (f *fakeReader) SetFrameBuffer(fb *exr.FrameBuffer) { f.fb = fb }

func (f *fakeReader) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeReader) ReadPixels(y1, y2 int) error {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.onRead != nil {
		f.onRead(y1, y2)
	}
	if f.err != nil {
		return f.err
	}

	last := y2
	partial := f.failFrom >= 0 && y2 >= f.failFrom
	if partial {
		last = f.failFrom - 1
	}
	for ci, c := range f.channels {
		s, ok := f.fb.Get(c.Name)
		if !ok {
			continue
		}
		for y := y1; y <= last; y++ {
			if (y-f.dw.Min.Y)%c.YSampling != 0 {
				continue
			}
			py := f.dw.Min.Y + (y-f.dw.Min.Y)/c.YSampling
			for x := f.dw.Min.X; x <= f.dw.Max.X; x += c.XSampling {
				px := f.dw.Min.X + (x-f.dw.Min.X)/c.XSampling
				s.SetFloat32(px, py, channelValue(ci, x, y))
			}
		}
	}
	if partial {
		return errors.Newf(errors.ErrCodeInputPartial, "scanline %d was never written", f.failFrom).WithComponent("exr")
	}
	return nil
}

func testKey(path string, sec int64) stream.Key {
	return stream.Key{Path: path, ModTime: stream.ModTime{Sec: sec}}
}

func newTestPool(capacity int, clock *fakeClock) *Pool {
	return NewPool(capacity, Options{Threads: 1, Workers: 4, Now: clock.Now})
}

// openEXR encodes parts and opens them through the hybrid reader.
func openEXR(t *testing.T, parts ...exr.WritePart) *hybrid.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, exr.Encode(&buf, parts...))
	r, err := hybrid.Open(bytes.NewReader(buf.Bytes()), hybrid.Options{Threads: 2})
	require.NoError(t, err)
	return r
}

func constantFrame(h *exr.Header, value float32) *exr.FrameBuffer {
	fb := exr.NewFrameBuffer()
	dw := h.DataWindow
	for _, c := range h.Channels {
		s := exr.NewSlice(c.Type, dw, 0)
		for y := dw.Min.Y; y <= dw.Max.Y; y++ {
			for x := dw.Min.X; x <= dw.Max.X; x++ {
				s.SetFloat32(x, y, value)
			}
		}
		fb.Insert(c.Name, s)
	}
	return fb
}

// recordingMetrics counts pool events.
type recordingMetrics struct {
	mu        sync.Mutex
	hits      int
	misses    int
	builds    int
	failures  int
	evictions map[types.EvictionReason]int
	fills     int
	entries   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{evictions: make(map[types.EvictionReason]int)}
}

func (m *recordingMetrics) RecordLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) RecordBuild(_ time.Duration, _ int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
	} else {
		m.builds++
	}
}

func (m *recordingMetrics) RecordEviction(reason types.EvictionReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions[reason]++
}

func (m *recordingMetrics) RecordFill(time.Duration, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills++
}

func (m *recordingMetrics) SetPoolSize(entries int, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
}
