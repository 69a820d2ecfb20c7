package nnrt

import (
	"fmt"

	"github.com/pkg/errors"
)

// ResultCode is the status reported by runtime calls and by completed executions.
type ResultCode int

const (
	NoError        ResultCode = 0
	OutOfMemory    ResultCode = 1
	Incomplete     ResultCode = 2
	UnexpectedNull ResultCode = 3
	BadData        ResultCode = 4
	OpFailed       ResultCode = 5
	BadState       ResultCode = 6
	Unmappable     ResultCode = 7
)

// String returns a readable name of the result code.
func (c ResultCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case Incomplete:
		return "INCOMPLETE"
	case UnexpectedNull:
		return "UNEXPECTED_NULL"
	case BadData:
		return "BAD_DATA"
	case OpFailed:
		return "OP_FAILED"
	case BadState:
		return "BAD_STATE"
	case Unmappable:
		return "UNMAPPABLE"
	default:
		return fmt.Sprintf("ResultCode(%d)", int(c))
	}
}

// Error is returned by the runtime, carrying the ResultCode of the failure.
type Error struct {
	Code ResultCode
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("nnrt error (code=%s): %s", e.Code, e.Msg)
}

// errorf creates an *Error with the given code, with a stack trace (see github.com/pkg/errors package).
func errorf(code ResultCode, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// CodeOf returns the ResultCode carried by err: NoError if err is nil, and OpFailed if err was not
// created by the runtime.
func CodeOf(err error) ResultCode {
	if err == nil {
		return NoError
	}
	var nnErr *Error
	if errors.As(err, &nnErr) {
		return nnErr.Code
	}
	return OpFailed
}
