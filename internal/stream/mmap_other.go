//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package stream

import (
	"errors"
	"os"
)

func mapFile(*os.File, int64) ([]byte, error) {
	return nil, errors.New("memory mapping is not supported on this platform")
}

func unmapFile([]byte) error { return nil }

func fileModTime(_ *os.File, fi os.FileInfo) (ModTime, error) {
	t := fi.ModTime()
	return ModTime{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}, nil
}
