// Package stream wraps an image file for reading: positional and sequential
// reads, optional memory mapping, and the identity (path plus modification
// time) that the channel cache keys on.
package stream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/exrcache/exrcache/pkg/errors"
)

// ModTime is a file modification timestamp as the filesystem reports it.
// Two ModTimes are equal only when both fields are equal.
type ModTime struct {
	Sec  int64
	Nsec int64
}

// Time converts the timestamp for display. Keys never compare through it.
func (m ModTime) Time() time.Time {
	return time.Unix(m.Sec, m.Nsec)
}

// Key identifies one version of one file.
type Key struct {
	Path    string
	ModTime ModTime
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d.%09d", k.Path, k.ModTime.Sec, k.ModTime.Nsec)
}

// Stream is an open image file. ReadAt is safe for concurrent use; Read and
// Seek share a cursor guarded by a mutex.
type Stream struct {
	mu      sync.Mutex
	path    string
	modTime ModTime
	file    *os.File
	data    []byte
	mapped  bool
	size    int64
	pos     int64
}

// Open opens path for reading and records its modification time.
func Open(path string) (*Stream, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	file, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeFileNotFound, "file not found").
				WithComponent("stream").
				WithOperation("open").
				WithContext("path", abs)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStreamRead, "failed to open file").
			WithComponent("stream").
			WithOperation("open").
			WithContext("path", abs)
	}

	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStreamRead, "failed to stat file").
			WithComponent("stream").
			WithOperation("open").
			WithContext("path", abs)
	}

	modTime, err := fileModTime(file, fi)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStreamRead, "failed to read modification time").
			WithComponent("stream").
			WithOperation("open").
			WithContext("path", abs)
	}

	return &Stream{
		path:    abs,
		modTime: modTime,
		file:    file,
		size:    fi.Size(),
	}, nil
}

// FromBytes serves data as if it were the file at path.
func FromBytes(path string, modTime ModTime, data []byte) *Stream {
	return &Stream{
		path:    path,
		modTime: modTime,
		data:    data,
		size:    int64(len(data)),
	}
}

// MemoryMap maps the whole file read-only. Later reads are served from the
// mapping. Calling it twice, or on an in-memory stream, is a no-op.
func (s *Stream) MemoryMap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mapped || s.file == nil || s.size == 0 {
		return nil
	}

	data, err := mapFile(s.file, s.size)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStreamMap, "failed to memory map file").
			WithComponent("stream").
			WithOperation("mmap").
			WithContext("path", s.path)
	}

	s.data = data
	s.mapped = true
	return nil
}

// Mapped reports whether reads are served from a memory mapping.
func (s *Stream) Mapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped
}

// ReadAt implements io.ReaderAt.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.NewError(errors.ErrCodeStreamRead, "negative offset").WithComponent("stream")
	}

	if s.file == nil || s.data != nil {
		if off >= int64(len(s.data)) {
			return 0, io.EOF
		}
		n := copy(p, s.data[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}

	return s.file.ReadAt(p, off)
}

// Read implements io.Reader on the stream cursor.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.size + offset
	default:
		return s.pos, errors.Newf(errors.ErrCodeStreamRead, "invalid whence %d", whence).WithComponent("stream")
	}
	if pos < 0 {
		return s.pos, errors.NewError(errors.ErrCodeStreamRead, "seek before start of file").WithComponent("stream")
	}

	s.pos = pos
	return pos, nil
}

// Size returns the file size in bytes at open time.
func (s *Stream) Size() int64 { return s.size }

// Path returns the absolute path of the file.
func (s *Stream) Path() string { return s.path }

// ModTime returns the modification time recorded at open.
func (s *Stream) ModTime() ModTime { return s.modTime }

// Key returns the cache identity of this file version.
func (s *Stream) Key() Key {
	return Key{Path: s.path, ModTime: s.modTime}
}

// Close unmaps and closes the file.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.mapped {
		if err := unmapFile(s.data); err != nil {
			firstErr = errors.Wrap(err, errors.ErrCodeStreamMap, "failed to unmap file").WithComponent("stream")
		}
		s.mapped = false
	}
	s.data = nil

	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	return firstErr
}
