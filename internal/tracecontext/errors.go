package tracecontext

import (
	"errors"

	"github.com/roach88/tracer/internal/tracestore"
)

var (
	// ErrBufferTooSmall is returned when a placement buffer is smaller
	// than its sizing function reported.
	ErrBufferTooSmall = tracestore.ErrBufferTooSmall

	// ErrNotReady is returned by BeginAppend before loading completed, or
	// when loading failed.
	ErrNotReady = errors.New("tracecontext: loading not complete")

	// ErrCancelled is returned by BeginAppend once the context is cancelled.
	ErrCancelled = errors.New("tracecontext: cancelled")

	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("tracecontext: pool closed")

	// ErrLoadTimeout is returned when the loading-complete wait gives up.
	ErrLoadTimeout = errors.New("tracecontext: timed out waiting for loading complete")
)
