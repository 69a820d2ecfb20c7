package nnrt

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// executionState tracks the single-use lifecycle of an Execution.
type executionState int

const (
	executionPreparing executionState = iota
	executionComputing
	executionFinished
	executionFreed
)

// Execution binds concrete input and output memory to a Compilation, and runs it once.
//
// An Execution is single-use: after StartCompute (or Compute) it can't be bound or started again -- create a new one
// with NewExecution.
type Execution struct {
	compilation     *Compilation
	inputs, outputs []binding
	state           executionState
	event           *Event
}

// binding of one input or output to a range of a Memory.
type binding struct {
	memory         *Memory
	offset, length int
}

// NewExecution creates an Execution for the compilation.
func NewExecution(compilation *Compilation) (*Execution, error) {
	if !compilation.IsValid() {
		return nil, errorf(BadState, "NewExecution given a nil Compilation, or one already freed")
	}
	return &Execution{
		compilation: compilation,
		inputs:      make([]binding, len(compilation.inputs)),
		outputs:     make([]binding, len(compilation.outputs)),
	}, nil
}

// SetInputFromMemory binds the input index to length bytes of memory, starting at offset.
// The length must match the size in bytes of the input operand.
func (e *Execution) SetInputFromMemory(index int, memory *Memory, offset, length int) error {
	return e.bind("input", e.inputs, e.compilation.inputs, index, memory, offset, length)
}

// SetOutputFromMemory binds the output index to length bytes of memory, starting at offset.
// The length must match the size in bytes of the output operand.
func (e *Execution) SetOutputFromMemory(index int, memory *Memory, offset, length int) error {
	return e.bind("output", e.outputs, e.compilation.outputs, index, memory, offset, length)
}

func (e *Execution) bind(kind string, bindings []binding, infos []OperandInfo, index int, memory *Memory, offset, length int) error {
	if e == nil {
		return errorf(UnexpectedNull, "Execution is nil")
	}
	if e.state != executionPreparing {
		return errorf(BadState, "cannot bind %s #%d: execution already started or freed", kind, index)
	}
	if memory == nil {
		return errorf(UnexpectedNull, "cannot bind %s #%d to a nil Memory", kind, index)
	}
	if index < 0 || index >= len(bindings) {
		return errorf(BadData, "invalid %s index %d, compiled program has %d %ss", kind, index, len(bindings), kind)
	}
	if want := infos[index].Memory(); length != want {
		return errorf(BadData, "%s #%d of type %s requires %d bytes, but %d bytes were bound", kind, index, infos[index], want, length)
	}
	if _, err := memory.view(offset, length); err != nil {
		return errors.WithMessagef(err, "binding %s #%d", kind, index)
	}
	bindings[index] = binding{memory: memory, offset: offset, length: length}
	return nil
}

// StartCompute schedules the computation and returns an Event to wait for its completion.
//
// Memory bound to the execution must not be freed or written to until the Event completes.
func (e *Execution) StartCompute() (*Event, error) {
	if e == nil {
		return nil, errorf(UnexpectedNull, "Execution is nil")
	}
	if e.state != executionPreparing {
		return nil, errorf(BadState, "Execution is single-use, and it has already been started or freed")
	}
	if !e.compilation.IsValid() {
		return nil, errorf(BadState, "Compilation was freed before the execution started")
	}
	inputs, err := views("input", e.inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := views("output", e.outputs)
	if err != nil {
		return nil, err
	}
	e.state = executionComputing
	e.event = newEvent()
	prepared := e.compilation.prepared
	event := e.event
	klog.V(2).Infof("nnrt: starting execution on driver %q with %d inputs and %d outputs",
		e.compilation.driver.Name(), len(inputs), len(outputs))
	go func() {
		err := prepared.Compute(inputs, outputs)
		if err != nil {
			if _, isNNErr := errors.Cause(err).(*Error); !isNNErr {
				err = errors.WithMessagef(errorf(OpFailed, "%v", err), "driver %q failed", e.compilation.driver.Name())
			}
		}
		event.complete(err)
	}()
	return event, nil
}

// Compute starts the computation and waits for its completion.
func (e *Execution) Compute() error {
	event, err := e.StartCompute()
	if err != nil {
		return err
	}
	err = event.Wait()
	e.state = executionFinished
	return err
}

// Free releases the execution. If a computation is in flight, it waits for it to finish first.
// It can be called more than once: after the first call it becomes a no-op.
func (e *Execution) Free() {
	if e == nil || e.state == executionFreed {
		return
	}
	if e.event != nil {
		_ = e.event.Wait()
	}
	e.state = executionFreed
	e.inputs = nil
	e.outputs = nil
	e.compilation = nil
}

// views converts the bindings to the byte slices passed to the driver. All bindings must be set.
func views(kind string, bindings []binding) ([][]byte, error) {
	result := make([][]byte, len(bindings))
	for ii, b := range bindings {
		if b.memory == nil {
			return nil, errorf(BadState, "%s #%d was not bound", kind, ii)
		}
		v, err := b.memory.view(b.offset, b.length)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s #%d", kind, ii)
		}
		result[ii] = v
	}
	return result, nil
}
