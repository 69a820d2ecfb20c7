package nnrt

// This file holds the definition of functions and types commonly used in different parts.

import (
	"fmt"
	"slices"
	"sort"

	"github.com/gomlx/nnbridge/dtypes"
)

// keys returns the keys of a map in the form of a sorted slice.
func keys[V any](m map[string]V) []string {
	s := make([]string, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	sort.Strings(s)
	return s
}

// OperandInfo describes the type of one input or output of a compiled model.
type OperandInfo struct {
	DType      dtypes.DType
	Dimensions []int
}

// Size returns the number of elements of the operand.
func (o OperandInfo) Size() int {
	size := 1
	for _, dim := range o.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes required to hold the operand.
func (o OperandInfo) Memory() int {
	return o.DType.SizeForDimensions(o.Dimensions...)
}

// Clone returns a deep copy of the OperandInfo.
func (o OperandInfo) Clone() OperandInfo {
	return OperandInfo{DType: o.DType, Dimensions: slices.Clone(o.Dimensions)}
}

// String implements fmt.Stringer.
func (o OperandInfo) String() string {
	return fmt.Sprintf("(%s)%v", o.DType, o.Dimensions)
}
