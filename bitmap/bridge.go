package bitmap

import (
	"fmt"

	"github.com/pkg/errors"
)

// Lock locks the pixels of b for native access and returns its geometry and pixel memory.
//
// Only RGBA_8888 bitmaps with rows of at least width*4 bytes are accepted. Every successful Lock must be paired
// with exactly one Unlock. Failures wrap ErrLockFailed, and leave the bitmap unlocked.
func Lock(host Host, b *Bitmap) (Info, []byte, error) {
	if b == nil {
		return Info{}, nil, errors.Wrap(ErrLockFailed, "bitmap is nil")
	}
	if host == nil {
		return Info{}, nil, errors.Wrap(ErrLockFailed, "host is nil")
	}
	info, pixels, err := host.LockPixels(b)
	if err != nil {
		return Info{}, nil, errors.Wrapf(ErrLockFailed, "%v", err)
	}
	var reason string
	switch {
	case info.Format != FormatRGBA8888:
		reason = fmt.Sprintf("format %s not supported, only %s", info.Format, FormatRGBA8888)
	case info.Width <= 0 || info.Height <= 0:
		reason = fmt.Sprintf("invalid size %dx%d", info.Width, info.Height)
	case info.Stride < info.Width*4:
		reason = fmt.Sprintf("stride %d smaller than a row of %d pixels", info.Stride, info.Width)
	case len(pixels) < info.Stride*(info.Height-1)+info.Width*4:
		reason = fmt.Sprintf("locked pixel memory of %d bytes too small for %dx%d bitmap", len(pixels), info.Width, info.Height)
	}
	if reason != "" {
		if err := host.UnlockPixels(b); err != nil {
			reason += fmt.Sprintf(" (and unlock failed: %v)", err)
		}
		return Info{}, nil, errors.Wrap(ErrLockFailed, reason)
	}
	return info, pixels, nil
}

// Unlock releases a lock acquired with Lock.
func Unlock(host Host, b *Bitmap) error {
	if err := host.UnlockPixels(b); err != nil {
		return errors.WithMessage(err, "bitmap unlock failed")
	}
	return nil
}

// Indexing selects how Materialize maps output pixels to tensor values.
type Indexing int

const (
	// IndexRowMajor reads the NHWC tensor at [0, y, x, channel].
	IndexRowMajor Indexing = iota

	// IndexLegacy reads data[y*dims[0] + x], ignoring channels and the row width. With a batch of 1 it walks
	// the first values of the tensor along the diagonal, kept for compatibility with earlier consumers.
	IndexLegacy
)

// String implements fmt.Stringer.
func (i Indexing) String() string {
	switch i {
	case IndexRowMajor:
		return "row-major"
	case IndexLegacy:
		return "legacy"
	}
	return fmt.Sprintf("Indexing(%d)", int(i))
}

// Collapse selects how the channels of a tensor pixel are reduced to a single grey value.
type Collapse int

const (
	// CollapseFirst takes the first channel.
	CollapseFirst Collapse = iota

	// CollapseMean averages all channels.
	CollapseMean
)

// String implements fmt.Stringer.
func (c Collapse) String() string {
	switch c {
	case CollapseFirst:
		return "first"
	case CollapseMean:
		return "mean"
	}
	return fmt.Sprintf("Collapse(%d)", int(c))
}

// MaterializeOptions configure Materialize. The zero value uses IndexRowMajor and CollapseFirst.
type MaterializeOptions struct {
	Indexing Indexing
	Collapse Collapse
}

// GreyByte converts a value in [0, 1] to a byte: int(v*255) & 0xFF, truncating toward zero.
func GreyByte(v float32) uint8 {
	return uint8(int64(v*255) & 0xFF)
}

// GreyPixel returns the opaque grey pixel 0xFFcccccc for the byte c.
func GreyPixel(c uint8) uint32 {
	v := uint32(c)
	return 0xFF<<24 | v<<16 | v<<8 | v
}

// Materialize creates a dims[2]×dims[1] (width×height) RGBA_8888 bitmap in the host from the float tensor data of
// NHWC dimensions dims.
//
// Each output pixel (x, y) reads one float v (see Indexing and Collapse) and is set to the opaque grey pixel of
// GreyByte(v). Failures wrap ErrCreateFailed.
func Materialize(host Host, data []float32, dims []int, options MaterializeOptions) (*Bitmap, error) {
	if host == nil {
		return nil, errors.Wrap(ErrCreateFailed, "host is nil")
	}
	if len(dims) != 4 || dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 || dims[3] <= 0 {
		return nil, errors.Wrapf(ErrCreateFailed, "invalid tensor dimensions %v, expected [batch, height, width, channels]", dims)
	}
	height, width, channels := dims[1], dims[2], dims[3]
	var required int
	switch options.Indexing {
	case IndexRowMajor:
		required = height * width * channels
	case IndexLegacy:
		required = (height-1)*dims[0] + width
	default:
		return nil, errors.Wrapf(ErrCreateFailed, "unknown %s", options.Indexing)
	}
	if len(data) < required {
		return nil, errors.Wrapf(ErrCreateFailed, "tensor data has %d values, %s indexing of %v requires %d", len(data), options.Indexing, dims, required)
	}

	b, err := host.CreateBitmap(width, height, FormatRGBA8888)
	if err != nil {
		return nil, errors.Wrapf(ErrCreateFailed, "%v", err)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var v float32
			switch options.Indexing {
			case IndexLegacy:
				v = data[y*dims[0]+x]
			default:
				v = collapse(data[(y*width+x)*channels:(y*width+x+1)*channels], options.Collapse)
			}
			if err := host.SetPixel(b, x, y, GreyPixel(GreyByte(v))); err != nil {
				return nil, errors.Wrapf(ErrCreateFailed, "setting pixel (%d, %d): %v", x, y, err)
			}
		}
	}
	return b, nil
}

func collapse(values []float32, c Collapse) float32 {
	if c == CollapseMean {
		var sum float32
		for _, v := range values {
			sum += v
		}
		return sum / float32(len(values))
	}
	return values[0]
}
