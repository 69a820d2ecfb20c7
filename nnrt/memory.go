package nnrt

import (
	"os"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Memory is a runtime handle over a shared memory file descriptor.
//
// The runtime maps the descriptor by itself, so data written through any other shared mapping of the same
// descriptor is seen by executions without copies, and results written by executions are seen by the owner
// of the descriptor.
//
// The Memory is only valid while the descriptor remains open: it must be freed before the descriptor is closed.
type Memory struct {
	wrapper *memoryWrapper
	size    int
}

// memoryWrapper holds the mapping that requires clean up.
type memoryWrapper struct {
	data []byte
}

func (w *memoryWrapper) IsValid() bool {
	return w != nil && w.data != nil
}

func (w *memoryWrapper) Free() error {
	if !w.IsValid() {
		// Already freed, no-op.
		return nil
	}
	err := unix.Munmap(w.data)
	w.data = nil
	memoriesAlive.Add(-1)
	if err != nil {
		return errorf(Unmappable, "munmap of runtime memory failed: %v", err)
	}
	return nil
}

var memoriesAlive atomic.Int64

// MemoriesAlive returns the number of Memory handles currently mapped by the runtime.
func MemoriesAlive() int64 {
	return memoriesAlive.Load()
}

// NewMemoryFromFd creates a Memory for size bytes of the shared memory descriptor fd, starting at offset.
//
// The protection prot is a combination of unix.PROT_READ and unix.PROT_WRITE, and must be compatible with
// the descriptor. The offset must be a multiple of the page size.
//
// The returned Memory must be freed with Memory.Free, before fd is closed.
func NewMemoryFromFd(size int, prot int, fd int, offset int64) (*Memory, error) {
	if size <= 0 {
		return nil, errorf(BadData, "NewMemoryFromFd: invalid size %d", size)
	}
	if fd < 0 {
		return nil, errorf(BadData, "NewMemoryFromFd: invalid file descriptor %d", fd)
	}
	if offset < 0 || offset%int64(os.Getpagesize()) != 0 {
		return nil, errorf(BadData, "NewMemoryFromFd: offset %d is not a multiple of the page size %d", offset, os.Getpagesize())
	}
	data, err := unix.Mmap(fd, offset, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.WithMessagef(errorf(Unmappable, "mmap failed: %v", err),
			"NewMemoryFromFd(size=%d, fd=%d, offset=%d)", size, fd, offset)
	}
	m := &Memory{
		wrapper: &memoryWrapper{data: data},
		size:    size,
	}
	memoriesAlive.Add(1)
	runtime.AddCleanup(m, func(w *memoryWrapper) {
		if !w.IsValid() {
			return
		}
		klog.Errorf("nnrt.Memory of %d bytes garbage collected without being freed", len(w.data))
		if err := w.Free(); err != nil {
			klog.Errorf("nnrt.Memory.Free failed: %v", err)
		}
	}, m.wrapper)
	return m, nil
}

// Size returns the number of bytes covered by the Memory.
func (m *Memory) Size() int {
	return m.size
}

// IsValid returns whether the Memory has not been freed yet.
func (m *Memory) IsValid() bool {
	return m != nil && m.wrapper.IsValid()
}

// Free unmaps the memory. It can be called more than once: after the first call it becomes a no-op.
func (m *Memory) Free() error {
	if m == nil {
		return nil
	}
	return m.wrapper.Free()
}

// view returns the bytes [offset, offset+length) of the memory, or an error if the range is not
// within the memory.
func (m *Memory) view(offset, length int) ([]byte, error) {
	if !m.IsValid() {
		return nil, errorf(BadState, "Memory is nil or it has already been freed")
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return nil, errorf(BadData, "range [%d, %d) is out of bounds of memory of %d bytes", offset, offset+length, m.size)
	}
	return m.wrapper.data[offset : offset+length : offset+length], nil
}
