package nnbuilder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
)

// Model is a finalized, immutable computation graph created with Builder.Build (or ParseModel).
//
// It can be used as is by nnrt.Compile or serialized with Model.Serialized.
type Model struct {
	name       string
	operands   []OperandType
	operations []Operation

	inputs, outputs []int
	freed           bool
}

// Assert Model implements nnrt.Program.
var _ nnrt.Program = (*Model)(nil)

// Name of the model.
func (m *Model) Name() string {
	return m.name
}

// Operands returns a copy of the operand types of the model, indexed by operand index.
func (m *Model) Operands() []OperandType {
	operands := make([]OperandType, len(m.operands))
	for ii, operand := range m.operands {
		operands[ii] = operand.Clone()
	}
	return operands
}

// Operations returns a copy of the operations of the model, in execution order.
func (m *Model) Operations() []Operation {
	operations := make([]Operation, len(m.operations))
	for ii, op := range m.operations {
		operations[ii] = Operation{Type: op.Type, Inputs: slices.Clone(op.Inputs), Outputs: slices.Clone(op.Outputs), Resize: op.Resize}
	}
	return operations
}

// Inputs returns the operand indices of the model inputs.
func (m *Model) Inputs() []int {
	return slices.Clone(m.inputs)
}

// Outputs returns the operand indices of the model outputs.
func (m *Model) Outputs() []int {
	return slices.Clone(m.outputs)
}

// InputTypes returns the operand types of the model inputs, in binding order.
func (m *Model) InputTypes() []OperandType {
	return m.typesOf(m.inputs)
}

// OutputTypes returns the operand types of the model outputs, in binding order.
func (m *Model) OutputTypes() []OperandType {
	return m.typesOf(m.outputs)
}

func (m *Model) typesOf(indices []int) []OperandType {
	types := make([]OperandType, len(indices))
	for ii, idx := range indices {
		types[ii] = m.operands[idx].Clone()
	}
	return types
}

// Free releases the model tables. Compilations created from the model must be freed first.
// It can be called more than once: after the first call it becomes a no-op.
func (m *Model) Free() {
	if m == nil || m.freed {
		return
	}
	m.freed = true
	m.operands = nil
	m.operations = nil
	m.inputs = nil
	m.outputs = nil
}

// IsNil returns whether the model is nil or has been freed.
func (m *Model) IsNil() bool {
	return m == nil || m.freed
}

// validate checks that the model is well-formed:
//
//   - Every operand index referenced by an operation or declared as input/output exists.
//   - Inputs are not written by operations, and every operand is written at most once.
//   - Every output is written by some operation.
//   - Operation specific operand type constraints.
func (m *Model) validate() error {
	numOperands := len(m.operands)
	if len(m.operations) == 0 {
		return errors.New("model has no operations")
	}
	if len(m.inputs) == 0 || len(m.outputs) == 0 {
		return errors.Errorf("model must have at least one input and one output, got %d inputs and %d outputs", len(m.inputs), len(m.outputs))
	}
	checkIndex := func(kind string, idx int) error {
		if idx < 0 || idx >= numOperands {
			return errors.Errorf("%s references operand #%d, but model only has %d operands", kind, idx, numOperands)
		}
		return nil
	}
	isInput := make(map[int]bool, len(m.inputs))
	for _, idx := range m.inputs {
		if err := checkIndex("model input", idx); err != nil {
			return err
		}
		if isInput[idx] {
			return errors.Errorf("operand #%d declared as model input more than once", idx)
		}
		isInput[idx] = true
	}
	written := make(map[int]bool)
	for opIdx, op := range m.operations {
		kind := fmt.Sprintf("operation #%d (%s)", opIdx, op.Type)
		for _, idx := range op.Inputs {
			if err := checkIndex(kind, idx); err != nil {
				return err
			}
			if !isInput[idx] && !written[idx] {
				return errors.Errorf("%s reads operand #%d, which is neither a model input nor written by a previous operation", kind, idx)
			}
		}
		for _, idx := range op.Outputs {
			if err := checkIndex(kind, idx); err != nil {
				return err
			}
			if isInput[idx] {
				return errors.Errorf("%s writes operand #%d, which is a model input", kind, idx)
			}
			if written[idx] {
				return errors.Errorf("%s writes operand #%d, which was already written", kind, idx)
			}
			written[idx] = true
		}
		switch op.Type {
		case ResizeBilinearOp:
			if len(op.Inputs) != 1 || len(op.Outputs) != 1 {
				return errors.Errorf("%s requires 1 input and 1 output, got %d and %d", kind, len(op.Inputs), len(op.Outputs))
			}
			if err := checkResizeTypes(m.operands[op.Inputs[0]], m.operands[op.Outputs[0]], op.Resize); err != nil {
				return errors.WithMessage(err, kind)
			}
		default:
			return errors.Errorf("%s: unsupported operation type", kind)
		}
	}
	for _, idx := range m.outputs {
		if err := checkIndex("model output", idx); err != nil {
			return err
		}
		if !written[idx] {
			return errors.Errorf("model output operand #%d is not written by any operation", idx)
		}
	}
	return nil
}

// Text returns a human-readable representation of the model. It can be used for testing and debugging.
func (m *Model) Text() string {
	if m.IsNil() {
		return "<nil model>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "model %q {\n", m.name)
	for ii, operand := range m.operands {
		fmt.Fprintf(&sb, "  operand #%d: %s\n", ii, operand)
	}
	for _, op := range m.operations {
		fmt.Fprintf(&sb, "  %s\n", op)
	}
	fmt.Fprintf(&sb, "  inputs: %v\n", m.inputs)
	fmt.Fprintf(&sb, "  outputs: %v\n", m.outputs)
	sb.WriteString("}")
	return sb.String()
}
