// Package cpu implements a reference nnrt driver that runs models on the CPU, and registers it with the name "cpu".
//
// To use it simply import with:
//
//	import _ "github.com/gomlx/nnbridge/nnrt/cpu"
//
// And calls to nnrt.Compile(model).OnDriver("cpu") will use it.
package cpu

import (
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/nnbridge/dtypes"
	"github.com/gomlx/nnbridge/nnbuilder"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name the driver is registered with.
const Name = "cpu"

// Version of the driver.
const Version = "1.0.0"

func init() {
	if err := nnrt.RegisterDriver(New()); err != nil {
		klog.Fatalf("Failed to register the %q nnrt driver (github.com/gomlx/nnbridge/nnrt/cpu): %+v", Name, err)
	}
}

// Driver runs models on the CPU. It implements nnrt.Driver.
type Driver struct {
	numPrepared atomic.Int64
}

// New returns a new CPU driver. Usually there is no need to call it: the package registers one at initialization.
func New() *Driver {
	return &Driver{}
}

// Name implements nnrt.Driver.
func (d *Driver) Name() string { return Name }

// Version implements nnrt.Driver.
func (d *Driver) Version() string { return Version }

// PreparedAlive returns the number of models prepared by this driver and not yet closed.
func (d *Driver) PreparedAlive() int64 {
	return d.numPrepared.Load()
}

// Prepare implements nnrt.Driver: it parses and validates the serialized model.
// The preference is ignored by the CPU driver.
func (d *Driver) Prepare(program []byte, preference nnrt.Preference) (nnrt.PreparedModel, error) {
	model, err := nnbuilder.ParseModel(program)
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu driver failed to prepare model")
	}
	p := &preparedModel{
		driver:     d,
		model:      model,
		operands:   model.Operands(),
		operations: model.Operations(),
		inputs:     model.Inputs(),
		outputs:    model.Outputs(),
	}
	d.numPrepared.Add(1)
	klog.V(1).Infof("cpu driver: prepared model %q (%d operands, %d operations, preference %s)",
		model.Name(), len(p.operands), len(p.operations), preference)
	return p, nil
}

// preparedModel implements nnrt.PreparedModel.
type preparedModel struct {
	driver     *Driver
	model      *nnbuilder.Model
	operands   []nnbuilder.OperandType
	operations []nnbuilder.Operation

	inputs, outputs []int
	closed          atomic.Bool
}

func (p *preparedModel) infos(indices []int) []nnrt.OperandInfo {
	infos := make([]nnrt.OperandInfo, len(indices))
	for ii, idx := range indices {
		infos[ii] = p.operands[idx].Info()
	}
	return infos
}

// Inputs implements nnrt.PreparedModel.
func (p *preparedModel) Inputs() []nnrt.OperandInfo { return p.infos(p.inputs) }

// Outputs implements nnrt.PreparedModel.
func (p *preparedModel) Outputs() []nnrt.OperandInfo { return p.infos(p.outputs) }

// Close implements nnrt.PreparedModel.
func (p *preparedModel) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.model.Free()
	p.driver.numPrepared.Add(-1)
	return nil
}

// Compute implements nnrt.PreparedModel: it runs the operations in order. Operands that are neither inputs nor
// outputs are allocated for the duration of the call.
func (p *preparedModel) Compute(inputs, outputs [][]byte) error {
	if p.closed.Load() {
		return errors.New("cpu driver: model already closed")
	}
	if len(inputs) != len(p.inputs) || len(outputs) != len(p.outputs) {
		return errors.Errorf("cpu driver: model takes %d inputs and %d outputs, got %d and %d",
			len(p.inputs), len(p.outputs), len(inputs), len(outputs))
	}
	storage := make([][]byte, len(p.operands))
	for ii, idx := range p.inputs {
		storage[idx] = inputs[ii]
	}
	for ii, idx := range p.outputs {
		storage[idx] = outputs[ii]
	}
	for idx, operand := range p.operands {
		if storage[idx] == nil {
			storage[idx] = make([]byte, operand.Memory())
		}
		if len(storage[idx]) != operand.Memory() {
			return errors.Errorf("cpu driver: operand #%d of type %s requires %d bytes, got %d",
				idx, operand, operand.Memory(), len(storage[idx]))
		}
	}
	for opIdx, op := range p.operations {
		var err error
		switch op.Type {
		case nnbuilder.ResizeBilinearOp:
			in, out := op.Inputs[0], op.Outputs[0]
			err = resizeBilinear(storage[in], p.operands[in], storage[out], p.operands[out], op.Resize)
		default:
			err = errors.Errorf("unsupported operation %s", op.Type)
		}
		if err != nil {
			return errors.WithMessagef(err, "cpu driver: operation #%d (%s)", opIdx, op.Type)
		}
	}
	return nil
}

// asSlice reinterprets raw bytes as a slice of T. The bytes must be aligned for T.
func asSlice[T dtypes.Supported](raw []byte) []T {
	var t T
	size := int(unsafe.Sizeof(t))
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), len(raw)/size)
}
