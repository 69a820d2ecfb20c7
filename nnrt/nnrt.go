// Package nnrt implements a small neural-network compute runtime: drivers compile serialized models into
// Compilation objects, and one-shot Execution objects bind shared Memory to the compiled model inputs and outputs.
//
// The lifecycle mirrors the one of on-device accelerator APIs:
//
//	compilation, err := nnrt.Compile(model).OnDriver("cpu").Done()
//	execution, err := nnrt.NewExecution(compilation)
//	err = execution.SetInputFromMemory(0, inputMemory, 0, inputBytes)
//	err = execution.SetOutputFromMemory(0, outputMemory, 0, outputBytes)
//	event, err := execution.StartCompute()
//	err = event.Wait()
//
// Drivers are registered with RegisterDriver, usually from an init function of a driver package (see
// sub-package cpu).
package nnrt
