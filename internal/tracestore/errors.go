package tracestore

import "errors"

var (
	// ErrReadonly is returned when allocating from a readonly store.
	ErrReadonly = errors.New("tracestore: store is readonly")

	// ErrRecordSize is returned when the caller's record size differs from
	// the store's fixed record size.
	ErrRecordSize = errors.New("tracestore: record size mismatch")

	// ErrInvalidCount is returned for allocation counts < 1 or larger than
	// one segment can hold.
	ErrInvalidCount = errors.New("tracestore: invalid record count")

	// ErrAddressSpaceExhausted is returned when growth would exceed the
	// store's reserved segment range.
	ErrAddressSpaceExhausted = errors.New("tracestore: address space exhausted")

	// ErrBackingStorage is returned when the backing file cannot be
	// extended or mapped.
	ErrBackingStorage = errors.New("tracestore: backing storage failure")

	// ErrInvalidAddress is returned for addresses that do not name a
	// populated record.
	ErrInvalidAddress = errors.New("tracestore: invalid address")

	// ErrBadHeader is returned when a file or segment header fails
	// validation on load.
	ErrBadHeader = errors.New("tracestore: bad header")

	// ErrBufferTooSmall is returned when a caller-supplied placement buffer
	// is smaller than the size reported by the sizing function.
	ErrBufferTooSmall = errors.New("tracestore: buffer too small")

	// ErrUnknownStore is returned when looking up a store id that is not
	// part of the set.
	ErrUnknownStore = errors.New("tracestore: unknown store")

	// ErrNotOpen is returned when a store is used before Open or after
	// Close.
	ErrNotOpen = errors.New("tracestore: store not open")
)
