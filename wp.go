package wp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// DefaultLoopUnroll is the number of times a loop body is duplicated before
// the remaining iterations are dropped.
const DefaultLoopUnroll = 5

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrNoFunctionSpec     = errors.New("wp: no function spec matches call")
	ErrSubroutineNotFound = errors.New("wp: subroutine not found")
	ErrMalformedCFG       = errors.New("wp: malformed control flow graph")
)

// IsSolverUnknown returns true if err reports that the solver could not
// decide the query.
func IsSolverUnknown(err error) bool {
	switch errors.Cause(err) {
	case ErrSolverTimeout, ErrSolverCanceled, ErrSolverResourceLimit, ErrSolverUnknown:
		return true
	default:
		return false
	}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
