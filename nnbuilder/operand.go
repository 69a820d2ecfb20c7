package nnbuilder

import (
	"fmt"
	"slices"

	"github.com/gomlx/nnbridge/dtypes"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
)

// OperandType is a minimalistic type representation of a tensor operand of a model.
//
// It is defined as a DType (the underlying data type, e.g.: Float32) and the dimensions on each axis
// of the tensor. If len(Dimensions) is 0, it represents a scalar.
//
// Image tensors use the NHWC layout: [batch, height, width, channels].
type OperandType struct {
	DType      dtypes.DType
	Dimensions []int
}

// MakeOperandType filled with the values given.
//
// The dimensions must be >= 1, otherwise it panics. See MakeOperandTypeOrError for a version that returns an error.
func MakeOperandType(dtype dtypes.DType, dimensions ...int) OperandType {
	t, err := MakeOperandTypeOrError(dtype, dimensions...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return t
}

// MakeOperandTypeOrError is the same as MakeOperandType, but it returns an error instead if the dimensions are <= 0
// or the dtype is invalid.
//
// The dimensions are copied: the caller can reuse its slice right away.
func MakeOperandTypeOrError(dtype dtypes.DType, dimensions ...int) (OperandType, error) {
	t := OperandType{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if !dtype.IsValid() {
		return OperandType{}, errors.Errorf("MakeOperandType(%s): invalid dtype", t)
	}
	for _, dim := range dimensions {
		if dim <= 0 {
			return OperandType{}, errors.Errorf("MakeOperandType(%s): cannot create an operand with an axis with dimension <= 0", t)
		}
	}
	return t, nil
}

// Rank of an operand is the number of axes. A shortcut to len(OperandType.Dimensions).
func (t OperandType) Rank() int {
	return len(t.Dimensions)
}

// Size returns the number of elements of the operand. A scalar has size 1.
func (t OperandType) Size() int {
	size := 1
	for _, dim := range t.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes needed to store a tensor of the operand type.
func (t OperandType) Memory() int {
	return t.DType.SizeForDimensions(t.Dimensions...)
}

// Clone makes a deep copy of the operand type.
func (t OperandType) Clone() OperandType {
	return OperandType{DType: t.DType, Dimensions: slices.Clone(t.Dimensions)}
}

// Equal returns whether both operand types have the same dtype and dimensions.
func (t OperandType) Equal(other OperandType) bool {
	return t.DType == other.DType && slices.Equal(t.Dimensions, other.Dimensions)
}

// Info converts the operand type to the runtime representation.
func (t OperandType) Info() nnrt.OperandInfo {
	return nnrt.OperandInfo{DType: t.DType, Dimensions: slices.Clone(t.Dimensions)}
}

// String implements fmt.Stringer and pretty-print the operand type.
func (t OperandType) String() string {
	if t.Rank() == 0 {
		return fmt.Sprintf("(%s)[]", t.DType)
	}
	return fmt.Sprintf("(%s)%v", t.DType, t.Dimensions)
}
