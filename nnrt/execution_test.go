package nnrt

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	alive := CompilationsAlive()
	compilation := capture(Compile(rawProgram("abcd")).OnDriver(copyDriverName).WithPreference(PreferLowPower).Done()).Test(t)
	require.Equal(t, alive+1, CompilationsAlive())
	require.True(t, compilation.IsValid())
	require.Equal(t, PreferLowPower, compilation.Preference())
	require.Equal(t, copyDriverName, compilation.Driver().Name())
	require.Len(t, compilation.Inputs(), 1)
	require.Equal(t, 16, compilation.Inputs()[0].Memory())
	require.NotNil(t, compilation.Program())

	require.NoError(t, compilation.Free())
	require.False(t, compilation.IsValid())
	require.Equal(t, alive, CompilationsAlive())
	require.NoError(t, compilation.Free(), "Free must be idempotent")
}

func TestCompileErrors(t *testing.T) {
	alive := CompilationsAlive()
	_, err := Compile(nil).Done()
	require.Equal(t, UnexpectedNull, CodeOf(err))

	_, err = CompileSerialized(nil).OnDriver(copyDriverName).Done()
	require.Equal(t, BadData, CodeOf(err))

	_, err = Compile(rawProgram("abcd")).OnDriver("unknown").Done()
	require.Equal(t, BadData, CodeOf(err))

	_, err = Compile(rawProgram("reject")).OnDriver(copyDriverName).Done()
	require.ErrorContains(t, err, "program rejected")

	// A CompileConfig can only be used once.
	cc := CompileSerialized([]byte("ab")).OnDriver(copyDriverName)
	compilation := capture(cc.Done()).Test(t)
	require.Nil(t, compilation.Program(), "serialized compilations have no program")
	require.NoError(t, compilation.Free())
	_, err = cc.Done()
	require.Equal(t, BadState, CodeOf(err))

	require.Equal(t, alive, CompilationsAlive())
}

func float32sOf(b []byte) []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func TestExecution(t *testing.T) {
	compilation := capture(Compile(rawProgram("abcd")).OnDriver(copyDriverName).Done()).Test(t)
	defer func() { require.NoError(t, compilation.Free()) }()
	in, inData := newMemory(t, 16)
	out, outData := newMemory(t, 16)
	copy(float32sOf(inData), []float32{1, 2, 3, 4})

	e := capture(NewExecution(compilation)).Test(t)
	require.NoError(t, e.SetInputFromMemory(0, in, 0, 16))
	require.NoError(t, e.SetOutputFromMemory(0, out, 0, 16))
	event := capture(e.StartCompute()).Test(t)
	require.NoError(t, event.Wait())
	require.Equal(t, NoError, event.Status())
	require.NoError(t, event.Wait(), "Wait can be called more than once")
	<-event.Done()
	require.Equal(t, []float32{1, 2, 3, 4}, float32sOf(outData))

	// Single use.
	_, err := e.StartCompute()
	require.Equal(t, BadState, CodeOf(err))
	require.Equal(t, BadState, CodeOf(e.SetInputFromMemory(0, in, 0, 16)))
	e.Free()
	e.Free()
}

func TestExecutionBindErrors(t *testing.T) {
	compilation := capture(Compile(rawProgram("abcd")).OnDriver(copyDriverName).Done()).Test(t)
	in, _ := newMemory(t, 16)
	small, _ := newMemory(t, 8)

	e := capture(NewExecution(compilation)).Test(t)
	defer e.Free()
	require.Equal(t, BadData, CodeOf(e.SetInputFromMemory(1, in, 0, 16)), "index out of range")
	require.Equal(t, BadData, CodeOf(e.SetInputFromMemory(-1, in, 0, 16)), "negative index")
	require.Equal(t, BadData, CodeOf(e.SetInputFromMemory(0, in, 0, 12)), "length doesn't match operand")
	require.Equal(t, BadData, CodeOf(e.SetInputFromMemory(0, in, 4, 16)), "range exceeds memory")
	require.Equal(t, BadData, CodeOf(e.SetOutputFromMemory(0, small, 0, 16)), "memory too small")
	require.Equal(t, UnexpectedNull, CodeOf(e.SetOutputFromMemory(0, nil, 0, 16)))

	// Output was never bound.
	require.NoError(t, e.SetInputFromMemory(0, in, 0, 16))
	_, err := e.StartCompute()
	require.Equal(t, BadState, CodeOf(err))

	// Executions can't be created from freed compilations.
	require.NoError(t, compilation.Free())
	_, err = NewExecution(compilation)
	require.Equal(t, BadState, CodeOf(err))
}

func TestExecutionComputeFailure(t *testing.T) {
	compilation := capture(Compile(rawProgram("abcd")).OnDriver(copyDriverName).Done()).Test(t)
	defer func() { require.NoError(t, compilation.Free()) }()
	in, inData := newMemory(t, 16)
	out, _ := newMemory(t, 16)
	inData[0] = 0xFF

	e := capture(NewExecution(compilation)).Test(t)
	defer e.Free()
	require.NoError(t, e.SetInputFromMemory(0, in, 0, 16))
	require.NoError(t, e.SetOutputFromMemory(0, out, 0, 16))
	err := e.Compute()
	require.ErrorContains(t, err, "poisoned input")
	require.Equal(t, OpFailed, CodeOf(err))
}
