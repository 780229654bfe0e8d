package querybridge

import (
	"errors"
	"fmt"

	"github.com/roach88/tracer/internal/capability"
)

// ErrSchemaMismatch is returned when a store's on-disk schema differs from
// the built-in one.
var ErrSchemaMismatch = errors.New("querybridge: store schema mismatch")

// ErrNoDatabaseFile is returned when the host has no file backing its main
// database, so no session directory can be derived.
var ErrNoDatabaseFile = errors.New("querybridge: host database has no file")

// Code classifies a load failure for translation into the host's result
// codes.
type Code string

const (
	CodeError Code = "ERROR"
	CodeNoMem Code = "NOMEM"
)

// Host result codes.
const (
	ResultOK                = 0
	ResultError             = 1
	ResultNoMem             = 7
	ResultOKLoadPermanently = 256
)

// Step names one stage of Load.
type Step int

const (
	StepCapabilities Step = iota + 1
	StepAllocator
	StepDirectory
	StepSession
	StepStores
	StepPools
	StepContext
	StepTables
	StepFunctions
)

func (s Step) String() string {
	switch s {
	case StepCapabilities:
		return "capabilities"
	case StepAllocator:
		return "allocator"
	case StepDirectory:
		return "directory"
	case StepSession:
		return "session"
	case StepStores:
		return "stores"
	case StepPools:
		return "pools"
	case StepContext:
		return "context"
	case StepTables:
		return "tables"
	case StepFunctions:
		return "functions"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// LoadError is returned by Load.
type LoadError struct {
	// Code classifies the failure.
	Code Code

	// Step is the stage that failed.
	Step Step

	// Message is an optional description added to Err.
	Message string

	Err error
}

func (e *LoadError) Error() string {
	switch {
	case e.Message == "":
		return fmt.Sprintf("load %s: %v", e.Step, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("load %s: %s", e.Step, e.Message)
	default:
		return fmt.Sprintf("load %s: %s: %v", e.Step, e.Message, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

func stepError(step Step, err error, format string, args ...any) *LoadError {
	code := CodeError
	if errors.Is(err, capability.ErrNoMem) {
		code = CodeNoMem
	}
	return &LoadError{Code: code, Step: step, Message: fmt.Sprintf(format, args...), Err: err}
}

// ResultCode maps err to a host result code. A nil error is ResultOK.
func ResultCode(err error) int {
	if err == nil {
		return ResultOK
	}
	var lerr *LoadError
	if errors.As(err, &lerr) && lerr.Code == CodeNoMem {
		return ResultNoMem
	}
	if errors.Is(err, capability.ErrNoMem) {
		return ResultNoMem
	}
	return ResultError
}
