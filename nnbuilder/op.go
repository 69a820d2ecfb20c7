package nnbuilder

import "fmt"

// OpType enumerates the operations supported by the builder.
// Values are stable: they are part of the serialized model format.
type OpType int32

const (
	InvalidOp        OpType = 0
	ResizeBilinearOp OpType = 23
)

// String implements fmt.Stringer.
func (t OpType) String() string {
	switch t {
	case InvalidOp:
		return "INVALID"
	case ResizeBilinearOp:
		return "RESIZE_BILINEAR"
	}
	return fmt.Sprintf("OpType(%d)", int32(t))
}

// Op is a reference to an operand added to a Builder.
//
// While the public fields can be introspected, they shouldn't be changed.
type Op struct {
	builder *Builder

	// Index of the operand in the model.
	Index int

	// Type of the operand.
	Type OperandType
}

// ResizeOptions are the optional parameters of ResizeBilinear.
//
// With both false (the default), source coordinates are dst*scale, where scale = inputSize/outputSize.
type ResizeOptions struct {
	// AlignCorners aligns the centers of the 4 corner pixels of the input and output, scale = (in-1)/(out-1).
	AlignCorners bool

	// HalfPixelCenters assumes pixels are centered at 0.5: source coordinates are (dst+0.5)*scale-0.5.
	HalfPixelCenters bool
}

// Operation is an operation of a model: it reads its Inputs operands and writes its Outputs operands,
// referred to by their indices.
type Operation struct {
	Type            OpType
	Inputs, Outputs []int
	Resize          ResizeOptions
}

// String implements fmt.Stringer.
func (op Operation) String() string {
	s := fmt.Sprintf("%v = %s(%v)", op.Outputs, op.Type, op.Inputs)
	if op.Type == ResizeBilinearOp {
		s += fmt.Sprintf(" align_corners=%t half_pixel_centers=%t", op.Resize.AlignCorners, op.Resize.HalfPixelCenters)
	}
	return s
}
