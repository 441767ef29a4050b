//go:build linux || darwin || freebsd

package memdump

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(fh *os.File, size int64) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(fh.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
