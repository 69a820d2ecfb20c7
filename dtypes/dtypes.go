// Package dtypes defines the element types of the operands handled by the compute runtime.
package dtypes

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// DType is the element type of an operand (a tensor).
//
// Values are stable: they are part of the serialized model format (see package nnbuilder).
type DType int32

const (
	// Invalid represents an invalid (or not set) dtype.
	Invalid DType = 0

	// Float32 is the only type used by the resize graph, and the default element type of operands.
	Float32 DType = 1

	// Int32 is used by scalar parameters of operations.
	Int32 DType = 2

	// Float16 is supported by the cpu driver for resizing, using github.com/x448/float16.
	Float16 DType = 3

	// Uint8 holds raw bitmap bytes. It is not a quantized type: no scale or zero-point is attached to it.
	Uint8 DType = 4
)

var dtypeNames = map[DType]string{
	Invalid: "Invalid",
	Float32: "Float32",
	Int32:   "Int32",
	Float16: "Float16",
	Uint8:   "Uint8",
}

// MapOfNames maps the names (and common aliases) of the dtypes to the DType.
// Lower-case versions of the names are also included.
var MapOfNames = func() map[string]DType {
	m := make(map[string]DType)
	for dtype, name := range dtypeNames {
		m[name] = dtype
		m[strings.ToLower(name)] = dtype
	}
	for alias, dtype := range map[string]DType{"F32": Float32, "F16": Float16, "S32": Int32, "U8": Uint8} {
		m[alias] = dtype
		m[strings.ToLower(alias)] = dtype
	}
	return m
}()

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return fmt.Sprintf("DType(%d)", int32(dtype))
}

// IsValid returns whether the dtype is one of the known types, and not Invalid.
func (dtype DType) IsValid() bool {
	_, found := dtypeNames[dtype]
	return found && dtype != Invalid
}

// IsFloat returns whether the dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float16
}

// Memory returns the number of bytes used by one element of the dtype.
// It returns 0 for Invalid.
func (dtype DType) Memory() uintptr {
	switch dtype {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Uint8:
		return 1
	default:
		return 0
	}
}

// SizeForDimensions returns the size in bytes of a tensor of the dtype with the given dimensions.
// A scalar (no dimensions) has the size of one element.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	size := int(dtype.Memory())
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// Supported lists the Go types that map to a DType.
type Supported interface {
	float32 | int32 | float16.Float16 | uint8
}

// FromGenericsType returns the DType corresponding to the Go type T.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

// FromGoType returns the DType for the given Go type, or Invalid if it is not supported.
func FromGoType(t reflect.Type) DType {
	switch t {
	case reflect.TypeOf(float32(0)):
		return Float32
	case reflect.TypeOf(int32(0)):
		return Int32
	case reflect.TypeOf(float16.Float16(0)):
		return Float16
	case reflect.TypeOf(uint8(0)):
		return Uint8
	}
	return Invalid
}
