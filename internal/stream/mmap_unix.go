//go:build linux || darwin || freebsd || netbsd || openbsd

package stream

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}

func fileModTime(f *os.File, _ os.FileInfo) (ModTime, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return ModTime{}, err
	}
	sec, nsec := st.Mtim.Unix()
	return ModTime{Sec: sec, Nsec: nsec}, nil
}
