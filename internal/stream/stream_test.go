package stream

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exrcache/exrcache/pkg/errors"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.exr")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestOpen_RecordsIdentity(t *testing.T) {
	path := writeTempFile(t, []byte("0123456789"))
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	assert.Equal(t, int64(10), s.Size())
	assert.Equal(t, mtime.Unix(), s.ModTime().Sec)
	assert.Equal(t, Key{Path: path, ModTime: s.ModTime()}, s.Key())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.exr"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFileNotFound))
}

func TestKeyEquality(t *testing.T) {
	a := Key{Path: "/shots/a.exr", ModTime: ModTime{Sec: 100, Nsec: 5}}

	assert.Equal(t, a, Key{Path: "/shots/a.exr", ModTime: ModTime{Sec: 100, Nsec: 5}})
	assert.NotEqual(t, a, Key{Path: "/shots/a.exr", ModTime: ModTime{Sec: 100, Nsec: 6}})
	assert.NotEqual(t, a, Key{Path: "/shots/b.exr", ModTime: ModTime{Sec: 100, Nsec: 5}})
	assert.Equal(t, "/shots/a.exr@100.000000005", a.String())
}

func TestReadSeek(t *testing.T) {
	for _, mapped := range []bool{false, true} {
		name := "file"
		if mapped {
			name = "mmap"
		}
		t.Run(name, func(t *testing.T) {
			s, err := Open(writeTempFile(t, []byte("abcdefghij")))
			require.NoError(t, err)
			defer s.Close()

			if mapped {
				require.NoError(t, s.MemoryMap())
				assert.True(t, s.Mapped())
			}

			buf := make([]byte, 4)
			n, err := s.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, "abcd", string(buf[:n]))

			pos, err := s.Seek(-3, io.SeekEnd)
			require.NoError(t, err)
			assert.Equal(t, int64(7), pos)

			n, err = s.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, "hij", string(buf[:n]))

			_, err = s.Read(buf)
			assert.Equal(t, io.EOF, err)

			n, err = s.ReadAt(buf, 2)
			require.NoError(t, err)
			assert.Equal(t, "cdef", string(buf[:n]))

			_, err = s.Seek(-1, io.SeekStart)
			assert.Error(t, err)
		})
	}
}

func TestFromBytes(t *testing.T) {
	s := FromBytes("/mem/a.exr", ModTime{Sec: 1}, []byte("xyz"))
	assert.Equal(t, Key{Path: "/mem/a.exr", ModTime: ModTime{Sec: 1}}, s.Key())
	require.NoError(t, s.MemoryMap())
	assert.False(t, s.Mapped())

	buf := make([]byte, 5)
	n, err := s.ReadAt(buf, 1)
	assert.Equal(t, 2, n)
	assert.Equal(t, io.EOF, err)

	_, err = s.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
}

func TestConcurrentReadAt(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	s, err := Open(writeTempFile(t, data))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MemoryMap())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			buf := make([]byte, 16)
			off := int64(g * 256)
			_, err := s.ReadAt(buf, off)
			assert.NoError(t, err)
			assert.Equal(t, byte(off), buf[0])
		}(g)
	}
	wg.Wait()
}
