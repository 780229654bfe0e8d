//go:build !unix

package tracestore

import (
	"fmt"
	"os"
	"sync"
)

// fileBacking emulates mappings with heap copies that are written back on
// Unmap and Sync.
type fileBacking struct {
	*os.File
	readonly bool

	mu     sync.Mutex
	mapped  map[*byte]int64
}

func newFileBacking(f *os.File, readonly bool) Backing {
	return &fileBacking{File: f, readonly: readonly, mapped: make(map[*byte]int64)}
}

func (b *fileBacking) Size() (int64, error) {
	fi, err := b.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (b *fileBacking) Map(offset int64, length int, writable bool) ([]byte, error) {
	if writable && b.readonly {
		return nil, fmt.Errorf("map %s: writable mapping of readonly file", b.Name())
	}
	data := make([]byte, length)
	if _, err := b.ReadAt(data, offset); err != nil {
		return nil, fmt.Errorf("map %s at %d: %w", b.Name(), offset, err)
	}
	if writable {
		b.mu.Lock()
		b.mapped[&data[0]] = offset
		b.mu.Unlock()
	}
	return data, nil
}

func (b *fileBacking) Unmap(data []byte, writable bool) error {
	if !writable || len(data) == 0 {
		return nil
	}
	b.mu.Lock()
	off, ok := b.mapped[&data[0]]
	delete(b.mapped, &data[0])
	b.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := b.WriteAt(data, off)
	return err
}
