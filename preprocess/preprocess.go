// Package preprocess converts host bitmaps into the 224x224x3 float tensors consumed by image classifiers.
//
// The bitmap pixels are staged as normalized float32 RGB values into an anonymous shared memory region, a
// single RESIZE_BILINEAR graph is compiled with nnrt, and executed reading and writing shared regions without
// copies. The result can be taken as a tensor (PreprocessTensor) or as a greyscale bitmap created by the host
// (Preprocess).
//
// Example:
//
//	host := bitmap.NewMemoryHost()
//	pp := preprocess.New(host, preprocess.DefaultConfig())
//	result, err := pp.Preprocess(bitmap.FromImage(img))
//
// Calls are synchronous, and every resource acquired during a call (pixel lock, shared regions, model,
// compilation, execution) is released before it returns, on success and on failure.
package preprocess

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/nnbridge/arena"
	"github.com/gomlx/nnbridge/bitmap"
	"github.com/gomlx/nnbridge/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// The reference CPU driver is always available.
	_ "github.com/gomlx/nnbridge/nnrt/cpu"
)

// Names of the shared regions, as seen in /proc/<pid>/fd.
const (
	InputRegionName  = "bitmapPixels"
	OutputRegionName = "outputTensor"
)

// state of a preprocessing call, logged at verbosity 2.
type state int

const (
	stateIdle state = iota
	stateLocked
	stateInputStaged
	stateGraphReady
	stateOutputStaged
	stateBound
	stateDispatched
	stateCompleted
	stateReleased
)

var stateNames = []string{"Idle", "Locked", "InputStaged", "GraphReady", "OutputStaged", "Bound", "Dispatched", "Completed", "Released"}

func (s state) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Preprocessor converts bitmaps of a Host to tensors. It holds no resources between calls, and it's safe
// for concurrent use.
type Preprocessor struct {
	host bitmap.Host
	cfg  Config
}

// New creates a Preprocessor for bitmaps of host.
func New(host bitmap.Host, cfg Config) *Preprocessor {
	return &Preprocessor{host: host, cfg: cfg}
}

// Config returns the configuration of the Preprocessor.
func (p *Preprocessor) Config() Config {
	return p.cfg
}

// OutputDimensions returns the NHWC dimensions of the tensors produced.
func OutputDimensions() [4]int {
	return [4]int{1, OutputHeight, OutputWidth, OutputChannels}
}

// Preprocess creates a Preprocessor with DefaultConfig and preprocesses b.
func Preprocess(host bitmap.Host, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	return New(host, DefaultConfig()).Preprocess(b)
}

// Preprocess resizes b to 224x224 and returns the result as a new greyscale RGBA_8888 bitmap created by the
// host. See bitmap.Materialize for how tensor values become pixels.
//
// Errors can be matched with errors.Is against ErrBitmapLock, ErrArenaAlloc, ErrGraphBuild, ErrExecution and
// ErrBitmapCreate.
func (p *Preprocessor) Preprocess(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	tensor, dims, err := p.PreprocessTensor(b)
	if err != nil {
		return nil, err
	}
	result, err := bitmap.Materialize(p.host, tensor, dims[:], p.cfg.Materialize)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PreprocessTensor resizes b and returns the 1x224x224x3 float32 tensor, in NHWC layout, with values
// normalized to [0, 1], along with its dimensions.
func (p *Preprocessor) PreprocessTensor(b *bitmap.Bitmap) (tensor []float32, dims [4]int, err error) {
	call := &call{p: p}
	defer func() {
		if releaseErr := call.cleanup.rewind(); releaseErr != nil && err == nil {
			tensor = nil
			err = errors.WithMessage(releaseErr, "preprocess: releasing resources")
		}
		call.transition(stateReleased)
	}()
	tensor, err = call.run(b)
	if err != nil {
		klog.V(1).Infof("preprocess: failed in state %s: %v", call.state, err)
		return nil, dims, err
	}
	return tensor, OutputDimensions(), nil
}

// call holds the state of one PreprocessTensor call.
type call struct {
	p       *Preprocessor
	state   state
	cleanup cleanupStack
}

func (c *call) transition(s state) {
	klog.V(2).Infof("preprocess: %s -> %s", c.state, s)
	c.state = s
}

func (c *call) run(b *bitmap.Bitmap) ([]float32, error) {
	host := c.p.host
	info, pixels, err := bitmap.Lock(host, b)
	if err != nil {
		return nil, err
	}
	c.cleanup.push("bitmap pixels lock", func() error { return bitmap.Unlock(host, b) })
	c.transition(stateLocked)

	inDims := [4]int{1, info.Height, info.Width, 3}
	inBytes := dtypes.Float32.SizeForDimensions(inDims[:]...)
	in, err := arena.Allocate(InputRegionName, inBytes)
	if err != nil {
		return nil, err
	}
	c.cleanup.push("input region", in.Release)
	stageRGBA(in.Float32s(), pixels, info)
	c.transition(stateInputStaged)

	outDims := OutputDimensions()
	g, err := BuildResize(inDims, outDims, c.p.cfg)
	if err != nil {
		return nil, err
	}
	c.cleanup.push("resize graph", g.Free)
	c.transition(stateGraphReady)

	outBytes := dtypes.Float32.SizeForDimensions(outDims[:]...)
	out, err := arena.Allocate(OutputRegionName, outBytes)
	if err != nil {
		return nil, err
	}
	c.cleanup.push("output region", out.Release)
	c.transition(stateOutputStaged)

	if err = run(g, in, out, inBytes, outBytes, c.transition); err != nil {
		return nil, err
	}

	tensor := make([]float32, outBytes/int(dtypes.Float32.Memory()))
	if err = out.CopyOut(float32Bytes(tensor)); err != nil {
		return nil, withKind(ErrExecution, err, "reading results")
	}
	return tensor, nil
}

// stageRGBA writes the R, G and B bytes of the pixels to dst as float32 values in [0, 1], in NHWC order.
// Alpha is dropped.
func stageRGBA(dst []float32, pixels []byte, info bitmap.Info) {
	idx := 0
	for y := 0; y < info.Height; y++ {
		row := pixels[y*info.Stride : y*info.Stride+info.Width*4]
		for x := 0; x < info.Width; x++ {
			dst[idx] = float32(row[x*4]) / 255
			dst[idx+1] = float32(row[x*4+1]) / 255
			dst[idx+2] = float32(row[x*4+2]) / 255
			idx += 3
		}
	}
}

// float32Bytes returns the memory of values as bytes.
func float32Bytes(values []float32) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*4)
}
