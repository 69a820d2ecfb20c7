package nnrt

// Common initialization and testing tools for all test files.

import (
	"os"
	"testing"

	"github.com/gomlx/nnbridge/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	if err := RegisterDriver(&copyDriver{}); err != nil {
		panic(err)
	}
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

// rawProgram is a Program that serializes to itself.
type rawProgram []byte

func (p rawProgram) Serialized() ([]byte, error) {
	if p == nil {
		return nil, errors.New("rawProgram is nil")
	}
	return p, nil
}

const copyDriverName = "copy"

// copyDriver prepares programs with one float32 input and one float32 output with the number of elements
// given by the length of the program. Compute copies the input to the output, or fails if the first input
// byte is 0xFF.
type copyDriver struct{}

func (d *copyDriver) Name() string    { return copyDriverName }
func (d *copyDriver) Version() string { return "test" }

func (d *copyDriver) Prepare(program []byte, preference Preference) (PreparedModel, error) {
	if string(program) == "reject" {
		return nil, errors.New("program rejected")
	}
	info := OperandInfo{DType: dtypes.Float32, Dimensions: []int{len(program)}}
	return &copyModel{info: info}, nil
}

type copyModel struct {
	info   OperandInfo
	closed bool
}

func (m *copyModel) Inputs() []OperandInfo  { return []OperandInfo{m.info} }
func (m *copyModel) Outputs() []OperandInfo { return []OperandInfo{m.info} }

func (m *copyModel) Compute(inputs, outputs [][]byte) error {
	if inputs[0][0] == 0xFF {
		return errors.New("poisoned input")
	}
	copy(outputs[0], inputs[0])
	return nil
}

func (m *copyModel) Close() error {
	if m.closed {
		return errors.New("closed twice")
	}
	m.closed = true
	return nil
}

// sharedFile creates a temporary file of size bytes, returning its descriptor. It is closed at the end of
// the test.
func sharedFile(t *testing.T, size int) int {
	f, err := os.CreateTemp(t.TempDir(), "nnrt_memory")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(size)))
	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

// newMemory creates a Memory over a new shared file, and returns it along with a process mapping of the
// same file.
func newMemory(t *testing.T, size int) (*Memory, []byte) {
	fd := sharedFile(t, size)
	memory := capture(NewMemoryFromFd(size, unix.PROT_READ|unix.PROT_WRITE, fd, 0)).Test(t)
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, memory.Free())
		_ = unix.Munmap(data)
	})
	return memory, data
}
