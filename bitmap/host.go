package bitmap

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Host is the runtime that owns bitmaps: it locks their pixels for native access and creates new ones.
type Host interface {
	// LockPixels pins the pixels of the bitmap and returns its geometry and pixel memory.
	// The memory remains stable until UnlockPixels.
	LockPixels(b *Bitmap) (Info, []byte, error)

	// UnlockPixels releases a lock acquired with LockPixels.
	UnlockPixels(b *Bitmap) error

	// CreateBitmap allocates a new bitmap.
	CreateBitmap(width, height int, format Format) (*Bitmap, error)

	// SetPixel writes the 0xAARRGGBB color at (x, y).
	SetPixel(b *Bitmap, x, y int, argb uint32) error
}

// MemoryHost is a Host that keeps bitmaps in Go memory.
//
// It's safe for concurrent use.
type MemoryHost struct {
	mu                 sync.Mutex
	refuseLock         bool
	refuseCreate       bool
	outstandingLocks   int
	numCreated         int
	maxPixelsPerBitmap int
}

// Assert MemoryHost implements Host.
var _ Host = (*MemoryHost)(nil)

// NewMemoryHost creates a MemoryHost.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{}
}

// RefuseLocks makes the host refuse (or accept again) subsequent LockPixels calls.
func (h *MemoryHost) RefuseLocks(refuse bool) *MemoryHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuseLock = refuse
	return h
}

// RefuseCreates makes the host refuse (or accept again) subsequent CreateBitmap calls.
func (h *MemoryHost) RefuseCreates(refuse bool) *MemoryHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuseCreate = refuse
	return h
}

// WithMaxPixels limits the number of pixels of bitmaps created by the host. 0 means no limit.
func (h *MemoryHost) WithMaxPixels(maxPixels int) *MemoryHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxPixelsPerBitmap = maxPixels
	return h
}

// OutstandingLocks returns the number of locks not yet released.
func (h *MemoryHost) OutstandingLocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outstandingLocks
}

// NumCreated returns the number of bitmaps created with CreateBitmap.
func (h *MemoryHost) NumCreated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numCreated
}

// LockPixels implements Host.
func (h *MemoryHost) LockPixels(b *Bitmap) (Info, []byte, error) {
	if b == nil {
		return Info{}, nil, errors.New("LockPixels given a nil bitmap")
	}
	h.mu.Lock()
	refuse := h.refuseLock
	h.mu.Unlock()
	if refuse {
		return Info{}, nil, errors.New("host refused to lock the bitmap pixels")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return Info{}, nil, errors.New("bitmap pixels already locked")
	}
	b.locked = true
	h.mu.Lock()
	h.outstandingLocks++
	h.mu.Unlock()
	return b.info, b.pixels, nil
}

// UnlockPixels implements Host.
func (h *MemoryHost) UnlockPixels(b *Bitmap) error {
	if b == nil {
		return errors.New("UnlockPixels given a nil bitmap")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.locked {
		return errors.New("UnlockPixels called on a bitmap that is not locked")
	}
	b.locked = false
	h.mu.Lock()
	h.outstandingLocks--
	h.mu.Unlock()
	return nil
}

// CreateBitmap implements Host. Only FormatRGBA8888 is supported.
func (h *MemoryHost) CreateBitmap(width, height int, format Format) (*Bitmap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuseCreate {
		return nil, errors.New("host refused to create a bitmap")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid bitmap size %dx%d", width, height)
	}
	if format != FormatRGBA8888 {
		return nil, errors.Errorf("bitmap format %s not supported", format)
	}
	if h.maxPixelsPerBitmap > 0 && width*height > h.maxPixelsPerBitmap {
		return nil, errors.Errorf("bitmap of %dx%d pixels exceeds the host limit of %d pixels", width, height, h.maxPixelsPerBitmap)
	}
	h.numCreated++
	klog.V(2).Infof("bitmap: host created %dx%d %s bitmap", width, height, format)
	return newBitmap(width, height, format), nil
}

// SetPixel implements Host.
func (h *MemoryHost) SetPixel(b *Bitmap, x, y int, argb uint32) error {
	if b == nil {
		return errors.New("SetPixel given a nil bitmap")
	}
	if b.info.Format != FormatRGBA8888 {
		return errors.Errorf("SetPixel not supported for format %s", b.info.Format)
	}
	if x < 0 || y < 0 || x >= b.info.Width || y >= b.info.Height {
		return errors.Errorf("SetPixel(%d, %d) out of bounds of %dx%d bitmap", x, y, b.info.Width, b.info.Height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setPixel(x, y, argb)
	return nil
}
