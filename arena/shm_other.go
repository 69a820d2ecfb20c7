//go:build unix && !linux

package arena

import (
	"os"

	"golang.org/x/sys/unix"
)

// createSharedFd creates an anonymous shared memory descriptor of the given size, labeled name.
//
// Without memfd_create, it uses a temporary file that is unlinked right away.
func createSharedFd(name string, size int) (int, error) {
	f, err := os.CreateTemp("", name+"-*")
	if err != nil {
		return -1, err
	}
	defer func() { _ = f.Close() }()
	if err := os.Remove(f.Name()); err != nil {
		return -1, err
	}
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
