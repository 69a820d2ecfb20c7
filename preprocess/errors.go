package preprocess

import (
	"github.com/gomlx/nnbridge/arena"
	"github.com/gomlx/nnbridge/bitmap"
	"github.com/pkg/errors"
)

var (
	// ErrGraphBuild is returned (wrapped) when the resize graph can't be built, finalized or compiled.
	ErrGraphBuild = errors.New("graph build failed")

	// ErrExecution is returned (wrapped) when binding the shared regions, starting the computation or
	// the computation itself fails.
	ErrExecution = errors.New("execution failed")

	// ErrBitmapLock is an alias to bitmap.ErrLockFailed.
	ErrBitmapLock = bitmap.ErrLockFailed

	// ErrArenaAlloc is an alias to arena.ErrAllocFailed.
	ErrArenaAlloc = arena.ErrAllocFailed

	// ErrBitmapCreate is an alias to bitmap.ErrCreateFailed.
	ErrBitmapCreate = bitmap.ErrCreateFailed
)

// kindError tags an underlying error with one of the failure kinds above. Both can be matched with
// errors.Is and errors.As.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// withKind tags err with kind, adding the message as context.
func withKind(kind, err error, format string, args ...any) error {
	return errors.WithMessagef(&kindError{kind: kind, err: err}, format, args...)
}
