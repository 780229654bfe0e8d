//go:build unix

package tracestore

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// fileBacking maps segments with shared mmap so record writes land in the
// page cache directly. Offsets need not be page aligned; the mapping starts
// at the enclosing page and the returned slice skips the lead-in.
type fileBacking struct {
	*os.File
	readonly bool

	mu     sync.Mutex
	mapped map[*byte][]byte
}

func newFileBacking(f *os.File, readonly bool) Backing {
	return &fileBacking{File: f, readonly: readonly, mapped: make(map[*byte][]byte)}
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
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	page := int64(os.Getpagesize())
	lead := offset % page
	full, err := unix.Mmap(int(b.Fd()), offset-lead, length+int(lead), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at %d: %w", b.Name(), offset, err)
	}
	data := full[lead:]

	b.mu.Lock()
	b.mapped[&data[0]] = full
	b.mu.Unlock()
	return data, nil
}

func (b *fileBacking) Unmap(data []byte, writable bool) error {
	if len(data) == 0 {
		return nil
	}
	b.mu.Lock()
	full, ok := b.mapped[&data[0]]
	delete(b.mapped, &data[0])
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unmap %s: not a mapped range", b.Name())
	}

	if writable {
		if err := unix.Msync(full, unix.MS_SYNC); err != nil {
			return fmt.Errorf("msync %s: %w", b.Name(), err)
		}
	}
	return unix.Munmap(full)
}
