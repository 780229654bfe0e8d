// Package largepage reserves committed anonymous memory, preferring large
// (huge) pages and falling back to regular pages when the OS refuses.
//
// The trace stores structure is placed in one such region so the whole set
// of per-store control blocks lives in a single allocation.
package largepage

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrInvalidSize is returned for non-positive reservation sizes.
var ErrInvalidSize = errors.New("largepage: size must be positive")

// Region is a committed, zeroed, read-write memory reservation.
type Region struct {
	// Bytes is the usable memory. len(Bytes) is the aligned size.
	Bytes []byte

	// Large reports whether the region is backed by large pages.
	Large bool

	once    sync.Once
	release func([]byte) error
	err     error
}

// Release returns the memory to the OS. It is safe to call more than once;
// only the first call has any effect.
func (r *Region) Release() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		if r.release != nil {
			r.err = r.release(r.Bytes)
		}
		r.Bytes = nil
	})
	return r.err
}

// AlignUp rounds n up to a multiple of align. align must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Alloc reserves at least size bytes. The size is first rounded up to the
// large page minimum and a large-page mapping is attempted; on failure the
// size is rounded to the regular page size and mapped normally.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	if b, err := mapAnonymous(AlignUp(size, Minimum()), true); err == nil {
		return &Region{Bytes: b, Large: true, release: unmap}, nil
	}

	b, err := mapAnonymous(AlignUp(size, os.Getpagesize()), false)
	if err != nil {
		return nil, fmt.Errorf("largepage: reserve %d bytes: %w", size, err)
	}
	return &Region{Bytes: b, release: unmap}, nil
}
