package nnrt

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Program is an interface that matches the nnbuilder.Model method needed by the runtime.
//
// Created here to avoid creating a hard dependency to the nnbuilder package.
type Program interface {
	Serialized() ([]byte, error)
}

// CompileConfig is created with Compile, and is a "builder pattern" to configure a compilation call.
//
// Once finished call CompileConfig.Done to trigger the compilation and get back a Compilation or an error.
type CompileConfig struct {
	program    Program
	serialized []byte

	driverName string
	driver     Driver
	preference Preference

	// err saves an error during the configuration.
	err error
}

// Compile creates a CompileConfig for the finalized program. It defaults to the DefaultDriverName driver,
// with preference PreferFastSingleAnswer.
//
// Example:
//
//	compilation, err := nnrt.Compile(model).OnDriver("cpu").Done()
func Compile(program Program) *CompileConfig {
	cc := &CompileConfig{
		program:    program,
		driverName: DefaultDriverName,
		preference: PreferFastSingleAnswer,
	}
	if program == nil {
		cc.err = errorf(UnexpectedNull, "nnrt.Compile() given a nil program")
	}
	return cc
}

// CompileSerialized creates a CompileConfig for an already serialized program.
// The serialized bytes must be kept alive (and unchanged) until Done returns.
func CompileSerialized(serialized []byte) *CompileConfig {
	cc := &CompileConfig{
		serialized: serialized,
		driverName: DefaultDriverName,
		preference: PreferFastSingleAnswer,
	}
	if len(serialized) == 0 {
		cc.err = errorf(BadData, "nnrt.CompileSerialized() given an empty program")
	}
	return cc
}

// OnDriver selects the registered driver to compile the program with.
//
// It returns itself (CompileConfig) to allow cascading configuration calls.
func (cc *CompileConfig) OnDriver(name string) *CompileConfig {
	cc.driverName = name
	cc.driver = nil
	return cc
}

// WithDriver selects the driver explicitly, it doesn't need to be registered.
//
// It returns itself (CompileConfig) to allow cascading configuration calls.
func (cc *CompileConfig) WithDriver(driver Driver) *CompileConfig {
	if driver == nil {
		cc.err = errorf(UnexpectedNull, "nnrt.Compile().WithDriver() given a nil driver")
		return cc
	}
	cc.driver = driver
	cc.driverName = driver.Name()
	return cc
}

// WithPreference sets the execution preference passed to the driver.
//
// It returns itself (CompileConfig) to allow cascading configuration calls.
func (cc *CompileConfig) WithPreference(preference Preference) *CompileConfig {
	if preference < PreferLowPower || preference > PreferSustainedSpeed {
		cc.err = errorf(BadData, "nnrt.Compile().WithPreference() given invalid %s", preference)
		return cc
	}
	cc.preference = preference
	return cc
}

// Done triggers the compilation of the program. If the compilation succeeds a finalized Compilation is returned,
// otherwise an error is returned.
//
// A CompileConfig can only be used once.
func (cc *CompileConfig) Done() (*Compilation, error) {
	if cc.err != nil {
		return nil, cc.err
	}
	if cc.program == nil && cc.serialized == nil {
		return nil, errorf(BadState, "misconfigured CompileConfig, or an attempt of using it more than once, which is not supported -- call nnrt.Compile() again")
	}
	program := cc.program
	defer func() {
		// CompileConfig can only be used once.
		cc.program = nil
		cc.serialized = nil
	}()

	driver := cc.driver
	if driver == nil {
		var err error
		driver, err = GetDriver(cc.driverName)
		if err != nil {
			return nil, err
		}
	}

	serialized := cc.serialized
	if serialized == nil {
		var err error
		serialized, err = program.Serialized()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to serialize program for compilation")
		}
	}
	prepared, err := driver.Prepare(serialized, cc.preference)
	if err != nil {
		return nil, errors.WithMessagef(err, "driver %q failed to compile program", driver.Name())
	}
	return newCompilation(program, driver, prepared, cc.preference), nil
}

// Compilation is a program compiled by a driver, ready to create Execution objects.
// It is immutable, and it can be used by multiple executions, as long as it's not freed.
type Compilation struct {
	// program is a back-reference to the finalized program. It is nil for compilations of serialized programs.
	program    Program
	driver     Driver
	prepared   PreparedModel
	preference Preference

	inputs, outputs []OperandInfo
}

var numCompilations atomic.Int64

// CompilationsAlive returns a count of the numbers of Compilations currently not freed.
func CompilationsAlive() int64 {
	return numCompilations.Load()
}

// newCompilation creates a Compilation and registers it for freeing.
func newCompilation(program Program, driver Driver, prepared PreparedModel, preference Preference) *Compilation {
	c := &Compilation{
		program:    program,
		driver:     driver,
		prepared:   prepared,
		preference: preference,
	}
	for _, info := range prepared.Inputs() {
		c.inputs = append(c.inputs, info.Clone())
	}
	for _, info := range prepared.Outputs() {
		c.outputs = append(c.outputs, info.Clone())
	}
	numCompilations.Add(1)
	runtime.SetFinalizer(c, func(c *Compilation) { c.freeOrLog() })
	return c
}

// Free releases the compiled program. The Compilation is no longer valid afterwards.
// It can be called more than once: after the first call it becomes a no-op.
func (c *Compilation) Free() error {
	if c == nil || c.prepared == nil {
		// Already freed, no-op.
		return nil
	}
	err := c.prepared.Close()
	c.prepared = nil
	c.program = nil
	numCompilations.Add(-1)
	return err
}

// freeOrLog frees the Compilation and logs any errors.
func (c *Compilation) freeOrLog() {
	if err := c.Free(); err != nil {
		klog.Errorf("Compilation.Free failed: %v", err)
	}
}

// IsValid returns whether the compilation has not been freed.
func (c *Compilation) IsValid() bool {
	return c != nil && c.prepared != nil
}

// Program returns the finalized program this compilation was created from, or nil if compiled from
// serialized bytes or if the compilation was freed.
func (c *Compilation) Program() Program {
	return c.program
}

// Driver used to compile the program.
func (c *Compilation) Driver() Driver {
	return c.driver
}

// Preference used when compiling.
func (c *Compilation) Preference() Preference {
	return c.preference
}

// Inputs returns the types of the program inputs. The returned slice is owned by the Compilation, don't change it.
func (c *Compilation) Inputs() []OperandInfo {
	return c.inputs
}

// Outputs returns the types of the program outputs. The returned slice is owned by the Compilation, don't change it.
func (c *Compilation) Outputs() []OperandInfo {
	return c.outputs
}
