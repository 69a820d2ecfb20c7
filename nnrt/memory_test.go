package nnrt

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMemory(t *testing.T) {
	alive := MemoriesAlive()
	fd := sharedFile(t, 64)
	memory := capture(NewMemoryFromFd(64, unix.PROT_READ|unix.PROT_WRITE, fd, 0)).Test(t)
	require.Equal(t, alive+1, MemoriesAlive())
	require.True(t, memory.IsValid())
	require.Equal(t, 64, memory.Size())

	// Writes through another mapping of the descriptor are visible to the Memory.
	data, err := unix.Mmap(fd, 0, 64, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	defer func() { require.NoError(t, unix.Munmap(data)) }()
	data[10] = 42
	view := capture(memory.view(8, 8)).Test(t)
	require.Equal(t, byte(42), view[2])
	view[0] = 7
	require.Equal(t, byte(7), data[8])

	_, err = memory.view(60, 8)
	require.Equal(t, BadData, CodeOf(err))
	_, err = memory.view(-1, 8)
	require.Equal(t, BadData, CodeOf(err))

	require.NoError(t, memory.Free())
	require.False(t, memory.IsValid())
	require.Equal(t, alive, MemoriesAlive())
	require.NoError(t, memory.Free(), "Free must be idempotent")
	_, err = memory.view(0, 8)
	require.Equal(t, BadState, CodeOf(err))
}

func TestNewMemoryFromFdErrors(t *testing.T) {
	alive := MemoriesAlive()
	fd := sharedFile(t, 64)
	prot := unix.PROT_READ | unix.PROT_WRITE

	_, err := NewMemoryFromFd(0, prot, fd, 0)
	require.Equal(t, BadData, CodeOf(err))
	_, err = NewMemoryFromFd(64, prot, -1, 0)
	require.Equal(t, BadData, CodeOf(err))
	_, err = NewMemoryFromFd(64, prot, fd, 3)
	require.Equal(t, BadData, CodeOf(err))
	_, err = NewMemoryFromFd(64, prot, fd, int64(-os.Getpagesize()))
	require.Equal(t, BadData, CodeOf(err))

	// Closed descriptor.
	closedFd := sharedFile(t, 64)
	dup, err := unix.Dup(closedFd)
	require.NoError(t, err)
	require.NoError(t, unix.Close(dup))
	_, err = NewMemoryFromFd(64, prot, dup, 0)
	require.Equal(t, Unmappable, CodeOf(err))

	require.Equal(t, alive, MemoriesAlive())
}
