package capture

import (
	"errors"

	"github.com/roach88/tracer/internal/tracecontext"
)

var (
	// ErrEventDropped wraps a store allocation failure. The store is intact
	// and tracing continues.
	ErrEventDropped = errors.New("capture: event dropped")

	// ErrNotReady is returned before the context finished loading.
	ErrNotReady = tracecontext.ErrNotReady

	// ErrCancelled is returned once the context is cancelled.
	ErrCancelled = tracecontext.ErrCancelled
)
