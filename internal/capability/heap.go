package capability

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoMem is returned when an allocation would exceed the allocator's
// limit.
var ErrNoMem = errors.New("capability: out of memory")

// Allocator hands out zeroed byte blocks and accounts for them against a
// limit. A limit of zero or less means unlimited.
type Allocator struct {
	mu     sync.Mutex
	limit  int64
	inUse  int64
	peak   int64
	blocks map[*byte]int64
}

// NewAllocator returns an allocator bounded by limit bytes.
func NewAllocator(limit int64) *Allocator {
	return &Allocator{limit: limit, blocks: make(map[*byte]int64)}
}

// Alloc returns a zeroed block of n bytes.
func (a *Allocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("capability: invalid allocation size %d", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.inUse+int64(n) > a.limit {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrNoMem, n, a.inUse, a.limit)
	}
	b := make([]byte, n)
	a.blocks[&b[0]] = int64(n)
	a.inUse += int64(n)
	a.peak = max(a.peak, a.inUse)
	return b, nil
}

// Free returns a block obtained from Alloc. Unknown blocks are ignored.
func (a *Allocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.blocks[&b[0]]; ok {
		delete(a.blocks, &b[0])
		a.inUse -= n
	}
}

// InUse returns the bytes currently allocated.
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Peak returns the largest InUse seen.
func (a *Allocator) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}
