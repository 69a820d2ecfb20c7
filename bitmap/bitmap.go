// Package bitmap bridges host-managed bitmaps and the native preprocessing core.
//
// A Bitmap is owned by a Host: the core never keeps references to it. Pixel memory is only accessed between
// Lock and Unlock, and results are returned as fresh bitmaps created by the Host (see Materialize).
package bitmap

import (
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

var (
	// ErrLockFailed is returned (wrapped) when a bitmap is nil, the host refuses to lock it, or its format is
	// not supported.
	ErrLockFailed = errors.New("bitmap lock failed")

	// ErrCreateFailed is returned (wrapped) when the host cannot create a result bitmap.
	ErrCreateFailed = errors.New("bitmap creation failed")
)

// Format of the pixels of a bitmap.
type Format int

const (
	FormatNone     Format = 0
	FormatRGBA8888 Format = 1
	FormatRGB565   Format = 4
	FormatA8       Format = 8
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatNone:
		return "NONE"
	case FormatRGBA8888:
		return "RGBA_8888"
	case FormatRGB565:
		return "RGB_565"
	case FormatA8:
		return "A_8"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// BytesPerPixel of the format, 0 if unknown.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	case FormatRGB565:
		return 2
	case FormatA8:
		return 1
	}
	return 0
}

// Info is the geometry of a bitmap.
type Info struct {
	Width, Height int

	// Stride is the number of bytes between the start of consecutive rows.
	Stride int
	Format Format
}

// Bitmap is a host-managed image. For FormatRGBA8888 pixels are stored as R, G, B, A bytes, row by row.
type Bitmap struct {
	mu     sync.Mutex
	info   Info
	pixels []byte
	locked bool
}

// newBitmap allocates a bitmap with rows of width*BytesPerPixel bytes.
func newBitmap(width, height int, format Format) *Bitmap {
	stride := width * format.BytesPerPixel()
	return &Bitmap{
		info:   Info{Width: width, Height: height, Stride: stride, Format: format},
		pixels: make([]byte, stride*height),
	}
}

// Info returns the geometry of the bitmap.
func (b *Bitmap) Info() Info {
	return b.info
}

// Width of the bitmap in pixels.
func (b *Bitmap) Width() int { return b.info.Width }

// Height of the bitmap in pixels.
func (b *Bitmap) Height() int { return b.info.Height }

// IsLocked returns whether the bitmap pixels are currently locked.
func (b *Bitmap) IsLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Pixel returns the pixel at (x, y) packed as 0xAARRGGBB. Only FormatRGBA8888 is supported.
func (b *Bitmap) Pixel(x, y int) uint32 {
	if b.info.Format != FormatRGBA8888 || x < 0 || y < 0 || x >= b.info.Width || y >= b.info.Height {
		return 0
	}
	p := b.pixels[y*b.info.Stride+x*4:]
	return uint32(p[3])<<24 | uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// setPixel writes the 0xAARRGGBB color at (x, y).
func (b *Bitmap) setPixel(x, y int, argb uint32) {
	p := b.pixels[y*b.info.Stride+x*4:]
	p[0] = byte(argb >> 16)
	p[1] = byte(argb >> 8)
	p[2] = byte(argb)
	p[3] = byte(argb >> 24)
}

// FromImage creates an RGBA_8888 bitmap with a copy of the image.
func FromImage(img image.Image) *Bitmap {
	bounds := img.Bounds()
	b := newBitmap(bounds.Dx(), bounds.Dy(), FormatRGBA8888)
	dst := &image.RGBA{Pix: b.pixels, Stride: b.info.Stride, Rect: image.Rect(0, 0, bounds.Dx(), bounds.Dy())}
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)
	return b
}

// FromPixels creates an RGBA_8888 bitmap of the given size from a copy of the RGBA bytes. It returns an error
// if the number of bytes doesn't match.
func FromPixels(width, height int, rgba []byte) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bitmap.FromPixels: invalid size %dx%d", width, height)
	}
	if len(rgba) != width*height*4 {
		return nil, errors.Errorf("bitmap.FromPixels: %dx%d RGBA bitmap requires %d bytes, got %d", width, height, width*height*4, len(rgba))
	}
	b := newBitmap(width, height, FormatRGBA8888)
	copy(b.pixels, rgba)
	return b, nil
}

// Image returns a copy of the bitmap as an *image.RGBA. Only FormatRGBA8888 is supported, other formats return nil.
func (b *Bitmap) Image() *image.RGBA {
	if b.info.Format != FormatRGBA8888 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, b.info.Width, b.info.Height))
	for y := 0; y < b.info.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+b.info.Width*4], b.pixels[y*b.info.Stride:])
	}
	return img
}
