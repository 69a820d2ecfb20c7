package nnbuilder

import (
	"testing"

	"github.com/gomlx/nnbridge/dtypes"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

// buildResize builds a model resizing [1, inH, inW, 3] to [1, outH, outW, 3].
func buildResize(t *testing.T, inH, inW, outH, outW int, options ResizeOptions) *Model {
	b := New("resize")
	input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, inH, inW, 3))).Test(t)
	output := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, outH, outW, 3))).Test(t)
	require.NoError(t, ResizeBilinear(input, output, options))
	require.NoError(t, b.IdentifyInputsAndOutputs([]*Op{input}, []*Op{output}))
	return capture(b.Build()).Test(t)
}

func TestOperandType(t *testing.T) {
	dims := []int{1, 4, 5, 3}
	op := MakeOperandType(dtypes.Float32, dims...)
	dims[1] = 100
	require.Equal(t, []int{1, 4, 5, 3}, op.Dimensions, "dimensions must be cloned")
	require.Equal(t, 4, op.Rank())
	require.Equal(t, 60, op.Size())
	require.Equal(t, 240, op.Memory())
	require.Equal(t, "(Float32)[1 4 5 3]", op.String())
	require.True(t, op.Equal(op.Clone()))
	require.False(t, op.Equal(MakeOperandType(dtypes.Float16, 1, 4, 5, 3)))

	_, err := MakeOperandTypeOrError(dtypes.Invalid, 1)
	require.Error(t, err)
	_, err = MakeOperandTypeOrError(dtypes.Float32, 1, 0, 3)
	require.Error(t, err)
	require.Panics(t, func() { MakeOperandType(dtypes.Float32, -1) })

	info := op.Info()
	require.Equal(t, dtypes.Float32, info.DType)
	require.Equal(t, op.Memory(), info.Memory())
}

func TestBuild(t *testing.T) {
	m := buildResize(t, 10, 20, 224, 224, ResizeOptions{})
	require.Equal(t, "resize", m.Name())
	require.Len(t, m.Operands(), 2)
	require.Equal(t, []int{0}, m.Inputs())
	require.Equal(t, []int{1}, m.Outputs())
	require.Equal(t, []int{1, 10, 20, 3}, m.InputTypes()[0].Dimensions)
	require.Equal(t, []int{1, 224, 224, 3}, m.OutputTypes()[0].Dimensions)
	ops := m.Operations()
	require.Len(t, ops, 1)
	require.Equal(t, ResizeBilinearOp, ops[0].Type)

	text := m.Text()
	require.Contains(t, text, `model "resize" {`)
	require.Contains(t, text, "operand #1: (Float32)[1 224 224 3]")
	require.Contains(t, text, "[1] = RESIZE_BILINEAR([0])")
	t.Logf("Model:\n%s", text)

	m.Free()
	require.True(t, m.IsNil())
	require.Equal(t, "<nil model>", m.Text())
	m.Free() // No-op.
}

func TestBuilderErrors(t *testing.T) {
	t.Run("spent", func(t *testing.T) {
		b := New("spent")
		input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 2, 2, 3))).Test(t)
		output := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		require.NoError(t, ResizeBilinear(input, output, ResizeOptions{}))
		require.NoError(t, b.IdentifyInputsAndOutputs([]*Op{input}, []*Op{output}))
		require.Error(t, b.IdentifyInputsAndOutputs([]*Op{input}, []*Op{output}), "identify twice")
		capture(b.Build()).Test(t)
		_, err := b.Build()
		require.Error(t, err)
		_, err = b.AddOperand(MakeOperandType(dtypes.Float32, 1))
		require.Error(t, err)
	})

	t.Run("not identified", func(t *testing.T) {
		b := New("not identified")
		input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 2, 2, 3))).Test(t)
		output := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		require.NoError(t, ResizeBilinear(input, output, ResizeOptions{}))
		_, err := b.Build()
		require.Error(t, err)
	})

	t.Run("no operations", func(t *testing.T) {
		b := New("empty")
		input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 2, 2, 3))).Test(t)
		require.NoError(t, b.IdentifyInputsAndOutputs([]*Op{input}, []*Op{input}))
		_, err := b.Build()
		require.ErrorContains(t, err, "no operations")
	})

	t.Run("output not written", func(t *testing.T) {
		b := New("unwritten")
		input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 2, 2, 3))).Test(t)
		output := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		other := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		require.NoError(t, ResizeBilinear(input, output, ResizeOptions{}))
		require.NoError(t, b.IdentifyInputsAndOutputs([]*Op{input}, []*Op{other}))
		_, err := b.Build()
		require.ErrorContains(t, err, "not written")
	})

	t.Run("resize types", func(t *testing.T) {
		b := New("types")
		input := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 2, 2, 3))).Test(t)
		rank3 := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 4, 4, 3))).Test(t)
		channels := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 1))).Test(t)
		ints := capture(b.AddOperand(MakeOperandType(dtypes.Int32, 1, 4, 4, 3))).Test(t)
		output := capture(b.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		require.Error(t, ResizeBilinear(input, rank3, ResizeOptions{}))
		require.Error(t, ResizeBilinear(input, channels, ResizeOptions{}))
		require.Error(t, ResizeBilinear(input, ints, ResizeOptions{}))
		require.Error(t, ResizeBilinear(input, output, ResizeOptions{AlignCorners: true, HalfPixelCenters: true}))
		require.Error(t, ResizeBilinear(nil, output, ResizeOptions{}))

		other := New("other")
		foreign := capture(other.AddOperand(MakeOperandType(dtypes.Float32, 1, 4, 4, 3))).Test(t)
		require.Error(t, ResizeBilinear(input, foreign, ResizeOptions{}))
		require.Error(t, b.IdentifyInputsAndOutputs([]*Op{foreign}, []*Op{output}))
	})
}

func TestSerialization(t *testing.T) {
	m := buildResize(t, 7, 9, 224, 224, ResizeOptions{HalfPixelCenters: true})
	serialized := capture(m.Serialized()).Test(t)
	parsed := capture(ParseModel(serialized)).Test(t)
	require.Equal(t, m.Text(), parsed.Text())
	require.True(t, parsed.Operations()[0].Resize.HalfPixelCenters)

	// Unknown fields are skipped.
	extended := protowire.AppendTag(serialized, 100, protowire.VarintType)
	extended = protowire.AppendVarint(extended, 42)
	parsed = capture(ParseModel(extended)).Test(t)
	require.Equal(t, m.Text(), parsed.Text())

	// Truncated models fail.
	_, err := ParseModel(serialized[:len(serialized)-3])
	require.Error(t, err)

	// Freed models can't be serialized.
	m.Free()
	_, err = m.Serialized()
	require.Error(t, err)
}

func TestParseModelValidates(t *testing.T) {
	// An operation that reads an undeclared operand.
	var op []byte
	op = protowire.AppendTag(op, fieldOperationType, protowire.VarintType)
	op = protowire.AppendVarint(op, uint64(ResizeBilinearOp))
	op = protowire.AppendTag(op, fieldOperationInputs, protowire.VarintType)
	op = protowire.AppendVarint(op, 0)
	op = protowire.AppendTag(op, fieldOperationOutputs, protowire.VarintType)
	op = protowire.AppendVarint(op, 5)

	var operand []byte
	operand = protowire.AppendTag(operand, fieldOperandDType, protowire.VarintType)
	operand = protowire.AppendVarint(operand, uint64(dtypes.Float32))
	operand = appendPacked(operand, fieldOperandDimensions, []int{1, 2, 2, 3})

	var b []byte
	b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
	b = protowire.AppendString(b, "bad")
	b = protowire.AppendTag(b, fieldModelOperands, protowire.BytesType)
	b = protowire.AppendBytes(b, operand)
	b = protowire.AppendTag(b, fieldModelOperations, protowire.BytesType)
	b = protowire.AppendBytes(b, op)
	b = appendPacked(b, fieldModelInputs, []int{0})
	b = appendPacked(b, fieldModelOutputs, []int{5})
	_, err := ParseModel(b)
	require.ErrorContains(t, err, "operand #5")
}
