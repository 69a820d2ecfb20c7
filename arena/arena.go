// Package arena provisions anonymous shared memory regions, mapped into the process and wrapped as nnrt.Memory
// handles, so the same pages are written by the process and read (or written) by the compute runtime without
// copies.
//
// Each Region owns a file descriptor, its mapping and the runtime handle derived from it. Region.Release frees
// all three, in reverse order of creation, and is safe to call on partially constructed regions.
package arena

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// ErrAllocFailed is returned (wrapped) by Allocate when the shared descriptor, its mapping or the runtime
// memory handle cannot be created.
var ErrAllocFailed = errors.New("shared memory allocation failed")

// Region is an anonymous shared memory region: a file descriptor, its read+write mapping in the process, and the
// runtime memory handle covering the full extent at offset 0.
type Region struct {
	name string
	size int

	mu     sync.Mutex
	fd     int
	data   []byte
	memory *nnrt.Memory
}

var regionsAlive atomic.Int64

// RegionsAlive returns the number of regions whose descriptor is still open.
func RegionsAlive() int64 {
	return regionsAlive.Load()
}

// Allocate creates a shared region of size bytes, labeled name.
//
// On failure all partially created resources are released, and the returned error wraps ErrAllocFailed.
func Allocate(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrAllocFailed, "arena.Allocate(%q): invalid size %d", name, size)
	}
	r := &Region{name: name, size: size, fd: -1}
	if err := r.allocate(); err != nil {
		if releaseErr := r.Release(); releaseErr != nil {
			klog.Errorf("arena.Allocate(%q): failed to release partially allocated region: %+v", name, releaseErr)
		}
		return nil, err
	}
	runtime.SetFinalizer(r, func(r *Region) {
		if r.fd < 0 {
			return
		}
		klog.Errorf("arena.Region %q garbage collected without being released", r.name)
		if err := r.Release(); err != nil {
			klog.Errorf("arena.Region.Release failed: %v", err)
		}
	})
	klog.V(2).Infof("arena: allocated region %q of %d bytes (fd=%d)", name, size, r.fd)
	return r, nil
}

// allocate creates the descriptor, the mapping and the runtime memory, in this order. Whatever was created
// before a failure is left in r, to be released by the caller.
func (r *Region) allocate() error {
	fd, err := createSharedFd(r.name, r.size)
	if err != nil {
		return errors.Wrapf(ErrAllocFailed, "arena.Allocate(%q, %d): creating shared descriptor: %v", r.name, r.size, err)
	}
	r.fd = fd
	regionsAlive.Add(1)

	data, err := unix.Mmap(r.fd, 0, r.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(ErrAllocFailed, "arena.Allocate(%q, %d): mmap failed: %v", r.name, r.size, err)
	}
	r.data = data

	memory, err := nnrt.NewMemoryFromFd(r.size, unix.PROT_READ|unix.PROT_WRITE, r.fd, 0)
	if err != nil {
		return errors.Wrapf(ErrAllocFailed, "arena.Allocate(%q, %d): creating runtime memory: %v", r.name, r.size, err)
	}
	r.memory = memory
	return nil
}

// Name returns the label given at allocation.
func (r *Region) Name() string {
	return r.name
}

// Size returns the length in bytes of the region.
func (r *Region) Size() int {
	return r.size
}

// Fd returns the file descriptor of the region, or -1 if it has been released.
func (r *Region) Fd() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fd
}

// Memory returns the runtime memory handle of the region. It is only valid until Release.
func (r *Region) Memory() *nnrt.Memory {
	return r.memory
}

// Bytes returns the process mapping of the region. It is only valid until Release.
func (r *Region) Bytes() []byte {
	return r.data
}

// Float32s returns the process mapping of the region viewed as float32 values. It is only valid until Release.
func (r *Region) Float32s() []float32 {
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(r.data))), len(r.data)/4)
}

// CopyIn copies src to the start of the region. It requires len(src) <= r.Size().
func (r *Region) CopyIn(src []byte) error {
	if r.data == nil {
		return errors.Errorf("arena.Region(%q).CopyIn: region not mapped", r.name)
	}
	if len(src) > r.size {
		return errors.Errorf("arena.Region(%q).CopyIn: %d bytes don't fit in region of %d bytes", r.name, len(src), r.size)
	}
	copy(r.data, src)
	return nil
}

// CopyOut copies the start of the region to dst. It requires len(dst) <= r.Size().
func (r *Region) CopyOut(dst []byte) error {
	if r.data == nil {
		return errors.Errorf("arena.Region(%q).CopyOut: region not mapped", r.name)
	}
	if len(dst) > r.size {
		return errors.Errorf("arena.Region(%q).CopyOut: %d bytes requested from region of %d bytes", r.name, len(dst), r.size)
	}
	copy(dst, r.data)
	return nil
}

// Release frees the runtime memory handle, unmaps the region and closes its descriptor.
//
// It is idempotent and safe on partially constructed regions. All steps are attempted; the first error is
// returned.
func (r *Region) Release() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.memory != nil {
		keep(errors.WithMessagef(r.memory.Free(), "arena.Region(%q): freeing runtime memory", r.name))
		r.memory = nil
	}
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			keep(errors.Wrapf(err, "arena.Region(%q): munmap", r.name))
		}
		r.data = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			keep(errors.Wrapf(err, "arena.Region(%q): closing descriptor", r.name))
		}
		r.fd = -1
		regionsAlive.Add(-1)
		klog.V(2).Infof("arena: released region %q", r.name)
	}
	return firstErr
}
