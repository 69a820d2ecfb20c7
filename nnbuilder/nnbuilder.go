// Package nnbuilder is used to create models (computation graphs) that can then be compiled and executed by the
// nnrt runtime.
//
// A Builder records operands and operations. When the model definition is complete, Builder.Build validates and
// finalizes it into an immutable Model, ready to be given to nnrt.Compile.
//
// Example of a model that resizes an image tensor:
//
//	builder := nnbuilder.New("resize")
//	input, _ := builder.AddOperand(nnbuilder.MakeOperandType(dtypes.Float32, 1, 32, 32, 3))
//	output, _ := builder.AddOperand(nnbuilder.MakeOperandType(dtypes.Float32, 1, 224, 224, 3))
//	_ = nnbuilder.ResizeBilinear(input, output, nnbuilder.ResizeOptions{})
//	_ = builder.IdentifyInputsAndOutputs([]*nnbuilder.Op{input}, []*nnbuilder.Op{output})
//	model, err := builder.Build()
package nnbuilder

import (
	"slices"

	"github.com/pkg/errors"
)

// Builder records the operands and operations of a model being built.
//
// Once Build is called, the builder is spent: further calls return errors.
type Builder struct {
	name string

	// operands owns the dimensions of every operand: they are cloned when added, so the caller's slices
	// don't need to outlive the builder.
	operands   []OperandType
	operations []Operation

	inputs, outputs []int
	identified      bool
	built           bool
}

// New creates a new Builder with the given name.
func New(name string) *Builder {
	return &Builder{name: name}
}

// Name of the model being built.
func (b *Builder) Name() string {
	return b.name
}

// checkModifiable returns an error if the builder can no longer be modified.
func (b *Builder) checkModifiable(what string) error {
	if b == nil {
		return errors.Errorf("trying to %s on a nil Builder", what)
	}
	if b.built {
		return errors.Errorf("trying to %s on Builder %q that has already been built", what, b.name)
	}
	return nil
}

// AddOperand adds an operand of the given type to the model, and returns a reference to it.
// The operand type is copied.
func (b *Builder) AddOperand(operandType OperandType) (*Op, error) {
	if err := b.checkModifiable("add an operand"); err != nil {
		return nil, err
	}
	if !operandType.DType.IsValid() {
		return nil, errors.Errorf("Builder %q: invalid operand type %s", b.name, operandType)
	}
	for _, dim := range operandType.Dimensions {
		if dim <= 0 {
			return nil, errors.Errorf("Builder %q: operand type %s has an axis with dimension <= 0", b.name, operandType)
		}
	}
	op := &Op{builder: b, Index: len(b.operands), Type: operandType.Clone()}
	b.operands = append(b.operands, op.Type)
	return op, nil
}

// addOperation will add the operation, after checking that its operands belong to the builder.
func (b *Builder) addOperation(opType OpType, inputs, outputs []*Op, resize ResizeOptions) error {
	if err := b.checkModifiable("add operation " + opType.String()); err != nil {
		return err
	}
	op := Operation{Type: opType, Resize: resize}
	for ii, input := range inputs {
		if input == nil || input.builder != b {
			return errors.Errorf("input #%d of %s is nil or comes from a different Builder", ii, opType)
		}
		op.Inputs = append(op.Inputs, input.Index)
	}
	for ii, output := range outputs {
		if output == nil || output.builder != b {
			return errors.Errorf("output #%d of %s is nil or comes from a different Builder", ii, opType)
		}
		op.Outputs = append(op.Outputs, output.Index)
	}
	b.operations = append(b.operations, op)
	return nil
}

// IdentifyInputsAndOutputs declares which operands are the inputs and outputs of the model, in the order they
// will be bound during execution.
func (b *Builder) IdentifyInputsAndOutputs(inputs, outputs []*Op) error {
	if err := b.checkModifiable("identify inputs and outputs"); err != nil {
		return err
	}
	if b.identified {
		return errors.Errorf("Builder %q: inputs and outputs can only be identified once", b.name)
	}
	var inputIndices, outputIndices []int
	for ii, input := range inputs {
		if input == nil || input.builder != b {
			return errors.Errorf("Builder %q: model input #%d is nil or comes from a different Builder", b.name, ii)
		}
		inputIndices = append(inputIndices, input.Index)
	}
	for ii, output := range outputs {
		if output == nil || output.builder != b {
			return errors.Errorf("Builder %q: model output #%d is nil or comes from a different Builder", b.name, ii)
		}
		outputIndices = append(outputIndices, output.Index)
	}
	b.inputs, b.outputs = inputIndices, outputIndices
	b.identified = true
	return nil
}

// Build validates and finalizes the model. After it the builder is spent and the returned Model is immutable.
//
// On error the builder is also spent: start a new one.
func (b *Builder) Build() (*Model, error) {
	if err := b.checkModifiable("build"); err != nil {
		return nil, err
	}
	b.built = true
	if !b.identified {
		return nil, errors.Errorf("Builder %q: IdentifyInputsAndOutputs must be called before Build", b.name)
	}
	m := &Model{
		name:       b.name,
		operands:   b.operands,
		operations: b.operations,
		inputs:     slices.Clone(b.inputs),
		outputs:    slices.Clone(b.outputs),
	}
	b.operands, b.operations = nil, nil
	if err := m.validate(); err != nil {
		return nil, errors.WithMessagef(err, "while finishing model %q", b.name)
	}
	return m, nil
}

// ResizeBilinear adds a bilinear resize operation that reads input and writes output: both must be rank-4 NHWC
// float tensors with the same batch and channels.
//
// There are no scale parameters: the target height and width are the ones of the output operand.
func ResizeBilinear(input, output *Op, options ResizeOptions) error {
	if input == nil || output == nil {
		return errors.New("ResizeBilinear given a nil operand")
	}
	if input.builder != output.builder {
		return errors.New("arguments input and output of ResizeBilinear come from different Builder objects")
	}
	if err := checkResizeTypes(input.Type, output.Type, options); err != nil {
		return err
	}
	return input.builder.addOperation(ResizeBilinearOp, []*Op{input}, []*Op{output}, options)
}

// checkResizeTypes validates the operand types and options of a RESIZE_BILINEAR operation.
func checkResizeTypes(input, output OperandType, options ResizeOptions) error {
	if input.Rank() != 4 || output.Rank() != 4 {
		return errors.Errorf("RESIZE_BILINEAR requires rank-4 NHWC operands, got input %s and output %s", input, output)
	}
	if !input.DType.IsFloat() || input.DType != output.DType {
		return errors.Errorf("RESIZE_BILINEAR requires float operands of the same dtype, got input %s and output %s", input, output)
	}
	if input.Dimensions[0] != output.Dimensions[0] || input.Dimensions[3] != output.Dimensions[3] {
		return errors.Errorf("RESIZE_BILINEAR requires the same batch and channels, got input %s and output %s", input, output)
	}
	if options.AlignCorners && options.HalfPixelCenters {
		return errors.New("RESIZE_BILINEAR: AlignCorners and HalfPixelCenters cannot both be set")
	}
	return nil
}
