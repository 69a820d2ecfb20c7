//go:build linux

package arena

import (
	"golang.org/x/sys/unix"
)

// createSharedFd creates an anonymous shared memory descriptor of the given size, labeled name.
func createSharedFd(name string, size int) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
