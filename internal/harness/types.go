package harness

import (
	"fmt"

	"github.com/roach88/tracer/internal/tracestore"
)

// RecordView is the readable form of one Event record.
type RecordView struct {
	Timestamp   int64
	Elapsed     uint32
	Kind        tracestore.EventKind
	LineOrDepth uint32
	ReverseJump bool
	CFunction   bool
	Thread      uint32

	// Function is the full name resolved through the Name store, or "".
	Function string

	Deltas tracestore.Deltas
}

// NameView is one Name record.
type NameView struct {
	Kind tracestore.NameKind
	Text string
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	Records  []RecordView
	Names    []NameView
	Dropped  int
	Disabled []string

	// Errors contains one message per failed assertion.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
