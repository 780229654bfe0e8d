package tracestore

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var testGeometry = Geometry{SegmentSize: 4096, MaxSegments: 8}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWriteStore(t *testing.T, fs *MemoryFS, desc Descriptor, g Geometry) *Store {
	t.Helper()
	s := NewStore(desc, "/session", g, false, WithBacking(fs.Open), WithLogger(discard()))
	require.NoError(t, s.Create())
	t.Cleanup(func() { s.Close() })
	return s
}

func loadStore(t *testing.T, fs *MemoryFS, desc Descriptor) *Store {
	t.Helper()
	s := NewStore(desc, "/session", Geometry{}, true, WithBacking(fs.Open), WithLogger(discard()))
	require.NoError(t, s.Load())
	t.Cleanup(func() { s.Close() })
	return s
}

func eventAt(ts int64, kind EventKind, line uint32) EventRecord {
	return EventRecord{
		Timestamp:      ts,
		Traits:         NewEventTraits(kind, line),
		ThreadID:       7,
		CodeObjectHash: uint32(ts) * 3,
		FunctionHash:   0xfeed,
		PathHash:       0xbeef,
		NameHash:       uint32(line),
	}
}

func appendEvent(t *testing.T, s *Store, r EventRecord) Address {
	t.Helper()
	var buf [EventRecordSize]byte
	r.MarshalTo(buf[:])
	addr, err := s.Append(buf[:], r.Timestamp)
	require.NoError(t, err)
	return addr
}

// faultyBacking wraps a Backing and fails selected calls.
type faultyBacking struct {
	Backing

	mu           sync.Mutex
	failTruncate bool
	failMap      bool
	maps         int

	// onMap, when set, runs before each successful Map.
	onMap func(offset int64)
}

var errInjected = errors.New("injected failure")

func (b *faultyBacking) Truncate(size int64) error {
	b.mu.Lock()
	fail := b.failTruncate
	b.mu.Unlock()
	if fail {
		return errInjected
	}
	return b.Backing.Truncate(size)
}

func (b *faultyBacking) Map(offset int64, length int, writable bool) ([]byte, error) {
	b.mu.Lock()
	fail := b.failMap
	if !fail {
		b.maps++
	}
	hook := b.onMap
	b.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	if hook != nil {
		hook(offset)
	}
	return b.Backing.Map(offset, length, writable)
}

func (b *faultyBacking) mapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maps
}

// faultyFS hands out faultyBackings over a MemoryFS and remembers the last.
type faultyFS struct {
	*MemoryFS
	last *faultyBacking
}

func (fs *faultyFS) Open(path string, readonly bool) (Backing, error) {
	b, err := fs.MemoryFS.Open(path, readonly)
	if err != nil {
		return nil, err
	}
	fs.last = &faultyBacking{Backing: b}
	return fs.last, nil
}

// syncSubmitter runs tasks inline.
type syncSubmitter struct{ n int }

func (s *syncSubmitter) Submit(task func()) error {
	s.n++
	task()
	return nil
}

// goSubmitter runs each task on its own goroutine.
type goSubmitter struct{ wg sync.WaitGroup }

func (s *goSubmitter) Submit(task func()) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
	return nil
}

func (s *goSubmitter) wait() { s.wg.Wait() }

// heldSubmitter queues tasks until the test runs them.
type heldSubmitter struct {
	mu    sync.Mutex
	tasks []func()
}

func (s *heldSubmitter) Submit(task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *heldSubmitter) take() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks
	s.tasks = nil
	return tasks
}
