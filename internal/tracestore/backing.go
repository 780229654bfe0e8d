package tracestore

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Backing is the storage under one store file. Segments are mapped into
// memory with Map; the returned slice stays valid, at the same address,
// until Unmap.
type Backing interface {
	io.ReaderAt
	io.WriterAt

	Size() (int64, error)
	Truncate(size int64) error

	// Map maps length bytes at offset. The range must lie within Size.
	Map(offset int64, length int, writable bool) ([]byte, error)

	// Unmap releases a slice returned by Map, flushing it first when it
	// was mapped writable.
	Unmap(b []byte, writable bool) error

	Sync() error
	Close() error
}

// BackingFactory opens the backing for path. Write mode creates or
// truncates the file; readonly mode requires it to exist.
type BackingFactory func(path string, readonly bool) (Backing, error)

// OpenFile is the default BackingFactory, backed by the file system.
func OpenFile(path string, readonly bool) (Backing, error) {
	var (
		f   *os.File
		err error
	)
	if readonly {
		f, err = os.Open(path)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return nil, err
	}
	return newFileBacking(f, readonly), nil
}

// MemoryFS is an in-process file system of Backings. Mapped ranges are
// stable heap blocks, so data written through a mapping is visible to a
// later readonly open of the same path. Used by tests and the harness.
type MemoryFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

// NewMemoryFS returns an empty MemoryFS.
func NewMemoryFS() *MemoryFS {
	return &MemoryFS{files: make(map[string]*memFile)}
}

// Open implements BackingFactory.
func (fs *MemoryFS) Open(path string, readonly bool) (Backing, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[path]
	if readonly {
		if !ok {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}
		return f, nil
	}
	f = &memFile{}
	fs.files[path] = f
	return f, nil
}

// Exists reports whether path has been created.
func (fs *MemoryFS) Exists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[path]
	return ok
}

// memFile stores its contents as non-overlapping extents sorted by offset.
// Gaps read as zero.
type memFile struct {
	mu      sync.Mutex
	size    int64
	extents []extent
}

type extent struct {
	off int64
	b   []byte
}

func (e extent) end() int64 { return e.off + int64(len(e.b)) }

func (f *memFile) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, nil
}

func (f *memFile) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("truncate: negative size %d", size)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.extents[:0]
	for _, e := range f.extents {
		switch {
		case e.end() <= size:
			kept = append(kept, e)
		case e.off < size:
			clear(e.b[size-e.off:])
			kept = append(kept, e)
		}
	}
	f.extents = kept
	f.size = size
	return nil
}

func (f *memFile) Map(offset int64, length int, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := offset + int64(length)
	if offset < 0 || length <= 0 || end > f.size {
		return nil, fmt.Errorf("map [%d, %d) outside file of size %d", offset, end, f.size)
	}
	for _, e := range f.extents {
		if e.off == offset && len(e.b) == length {
			return e.b, nil
		}
		if e.off < end && offset < e.end() {
			return nil, fmt.Errorf("map [%d, %d) overlaps extent [%d, %d)", offset, end, e.off, e.end())
		}
	}
	b := make([]byte, length)
	f.insert(extent{off: offset, b: b})
	return b, nil
}

func (f *memFile) Unmap([]byte, bool) error { return nil }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off >= f.size {
		return 0, io.EOF
	}
	n := len(p)
	if rem := f.size - off; int64(n) > rem {
		n = int(rem)
	}
	clear(p[:n])
	for _, e := range f.extents {
		lo, hi := max(off, e.off), min(off+int64(n), e.end())
		if lo < hi {
			copy(p[lo-off:hi-off], e.b[lo-e.off:hi-e.off])
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := off + int64(len(p))
	written := make([]bool, len(p))
	for _, e := range f.extents {
		lo, hi := max(off, e.off), min(end, e.end())
		if lo < hi {
			copy(e.b[lo-e.off:hi-e.off], p[lo-off:hi-off])
			for i := lo - off; i < hi-off; i++ {
				written[i] = true
			}
		}
	}

	// Fill the gaps with new extents.
	for i := 0; i < len(p); {
		if written[i] {
			i++
			continue
		}
		j := i
		for j < len(p) && !written[j] {
			j++
		}
		f.insert(extent{off: off + int64(i), b: append([]byte(nil), p[i:j]...)})
		i = j
	}
	if end > f.size {
		f.size = end
	}
	return len(p), nil
}

func (f *memFile) insert(e extent) {
	i := sort.Search(len(f.extents), func(i int) bool { return f.extents[i].off > e.off })
	f.extents = append(f.extents, extent{})
	copy(f.extents[i+1:], f.extents[i:])
	f.extents[i] = e
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }
