package tracestore

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Geometry sizes a store's segments and its reserved segment range.
type Geometry struct {
	SegmentSize int
	MaxSegments int

	// PremapThreshold is the fill ratio of the current segment at which
	// the next segment is mapped in the background. Zero disables it.
	PremapThreshold float64
}

// Validate checks that g can hold records of recordSize.
func (g Geometry) Validate(recordSize int) error {
	if g.SegmentSize < SegmentHeaderSize+recordSize {
		return fmt.Errorf("segment size %d cannot hold a %d byte record", g.SegmentSize, recordSize)
	}
	if g.MaxSegments < 1 {
		return fmt.Errorf("max segments %d must be at least 1", g.MaxSegments)
	}
	return nil
}

// Submitter runs background work. The trace context's general pool
// implements it.
type Submitter interface {
	Submit(task func()) error
}

type segment struct {
	index    uint32
	data     []byte
	capacity uint32
	used     atomic.Uint32
}

func (s *segment) slot(index, count uint32, recordSize int) []byte {
	start := SegmentHeaderSize + int(index)*recordSize
	return s.data[start : start+int(count)*recordSize : start+int(count)*recordSize]
}

// Store is one append-only, fixed-record-width log.
//
// A store has a single writer. AllocateRecords, Append and Close must not
// be called concurrently with each other. Record, Prev and Scan may be
// called from any goroutine.
type Store struct {
	desc     Descriptor
	geometry Geometry
	path     string
	readonly bool
	open     BackingFactory
	logger   *slog.Logger

	// info is this store's live-info block inside the stores placement
	// buffer, encoded as an InfoRecord.
	info []byte

	backing    Backing
	segments   atomic.Pointer[[]*segment]
	diskSchema string
	closed     atomic.Bool

	submitter atomic.Pointer[submitterBox]
	premap    struct {
		mu       sync.Mutex
		ready    *segment
		inflight bool
	}
}

type submitterBox struct{ Submitter }

func newStore(desc Descriptor, dir string, geometry Geometry, readonly bool, info []byte, o *options) *Store {
	s := &Store{
		desc:     desc,
		geometry: geometry,
		path:     filepath.Join(dir, desc.Filename()),
		readonly: readonly,
		open:     o.backing,
		logger:   o.logger.With(slog.String("store", desc.Name)),
		info:     info,
	}
	empty := []*segment{}
	s.segments.Store(&empty)
	s.writeInfo(InfoRecord{StoreID: desc.ID, RecordSize: uint32(desc.RecordSize)})
	return s
}

// NewStore returns a standalone store that owns its live-info block.
// Call Create or Load before use.
func NewStore(desc Descriptor, dir string, geometry Geometry, readonly bool, opts ...Option) *Store {
	return newStore(desc, dir, geometry, readonly, make([]byte, InfoRecordSize), applyOptions(opts))
}

func (s *Store) ID() StoreID            { return s.desc.ID }
func (s *Store) Name() string           { return s.desc.Name }
func (s *Store) RecordSize() int        { return s.desc.RecordSize }
func (s *Store) Readonly() bool         { return s.readonly }
func (s *Store) Path() string           { return s.path }
func (s *Store) Descriptor() Descriptor { return s.desc }

// Schema is the built-in schema of the store.
func (s *Store) Schema() string { return s.desc.Schema() }

// DiskSchema is the schema text read from the file header by Load.
func (s *Store) DiskSchema() string { return s.diskSchema }

// SetSubmitter binds the pool used for premapping segments.
func (s *Store) SetSubmitter(sub Submitter) {
	if sub == nil {
		s.submitter.Store(nil)
		return
	}
	s.submitter.Store(&submitterBox{sub})
}

func (s *Store) slotsPerSegment() uint32 {
	return uint32((s.geometry.SegmentSize - SegmentHeaderSize) / s.desc.RecordSize)
}

func (s *Store) segmentOffset(index uint32) int64 {
	return FileHeaderSize + int64(index)*int64(s.geometry.SegmentSize)
}

// Create opens the store for writing, replacing any existing file.
func (s *Store) Create() error {
	if s.readonly {
		return ErrReadonly
	}
	if err := s.geometry.Validate(s.desc.RecordSize); err != nil {
		return fmt.Errorf("create %s: %w", s.desc.Name, err)
	}

	b, err := s.open(s.path, false)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.desc.Name, err)
	}
	hdr := FileHeader{
		Version:     FormatVersion,
		StoreID:     s.desc.ID,
		RecordSize:  uint32(s.desc.RecordSize),
		SegmentSize: uint32(s.geometry.SegmentSize),
		MaxSegments: uint32(s.geometry.MaxSegments),
		Name:        s.desc.Name,
		Schema:      s.desc.Schema(),
	}
	if err := b.Truncate(FileHeaderSize); err != nil {
		b.Close()
		return fmt.Errorf("create %s: %w: %v", s.desc.Name, ErrBackingStorage, err)
	}
	if err := hdr.WriteTo(b); err != nil {
		b.Close()
		return fmt.Errorf("create %s: %w", s.desc.Name, err)
	}

	s.backing = b
	s.diskSchema = hdr.Schema
	s.logger.Debug("store created", slog.String("path", s.path))
	return nil
}

// Load opens an existing store readonly, validates its file header and maps
// every populated segment. It never allocates.
func (s *Store) Load() error {
	b, err := s.open(s.path, true)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.desc.Name, err)
	}
	s.backing = b
	if err := s.load(b); err != nil {
		s.unmapAll(false)
		b.Close()
		s.backing = nil
		return fmt.Errorf("load %s: %w", s.desc.Name, err)
	}
	return nil
}

func (s *Store) load(b Backing) error {
	hdr, err := ReadFileHeader(b)
	if err != nil {
		return err
	}
	if hdr.StoreID != s.desc.ID {
		return fmt.Errorf("%w: store id %d, want %d", ErrBadHeader, hdr.StoreID, s.desc.ID)
	}
	if int(hdr.RecordSize) != s.desc.RecordSize {
		return fmt.Errorf("%w: record size %d, want %d", ErrBadHeader, hdr.RecordSize, s.desc.RecordSize)
	}
	geometry := Geometry{SegmentSize: int(hdr.SegmentSize), MaxSegments: int(hdr.MaxSegments)}
	if err := geometry.Validate(s.desc.RecordSize); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	s.geometry = geometry
	s.diskSchema = hdr.Schema

	size, err := b.Size()
	if err != nil {
		return err
	}
	n := (size - FileHeaderSize) / int64(geometry.SegmentSize)
	if n > int64(geometry.MaxSegments) {
		return fmt.Errorf("%w: %d segments exceed reserved range of %d", ErrBadHeader, n, geometry.MaxSegments)
	}

	capacity := s.slotsPerSegment()
	var (
		segs    []*segment
		records uint64
	)
	for i := uint32(0); int64(i) < n; i++ {
		data, err := b.Map(s.segmentOffset(i), geometry.SegmentSize, false)
		if err != nil {
			return err
		}
		sh, err := readSegmentHeader(data)
		if err != nil {
			b.Unmap(data, false)
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if sh.Index != i || int(sh.RecordSize) != s.desc.RecordSize || sh.Used > capacity {
			b.Unmap(data, false)
			return fmt.Errorf("%w: segment %d header %+v", ErrBadHeader, i, sh)
		}
		if sh.Used == 0 {
			// A segment mapped ahead of need and never written.
			b.Unmap(data, false)
			break
		}
		seg := &segment{index: i, data: data, capacity: capacity}
		seg.used.Store(sh.Used)
		segs = append(segs, seg)
		records += uint64(sh.Used)
	}
	s.segments.Store(&segs)

	info := s.Info()
	info.NumberOfRecords = records
	info.SegmentCount = uint32(len(segs))
	info.SegmentSize = uint32(geometry.SegmentSize)
	if s.desc.Timestamp != nil && records > 0 {
		first, _ := s.Record(makeAddress(0, 0))
		last, _ := s.Prev()
		info.FirstTimestamp = s.desc.Timestamp(first)
		info.LastTimestamp = s.desc.Timestamp(last)
	}
	s.writeInfo(info)

	s.logger.Debug("store loaded",
		slog.String("path", s.path),
		slog.Int("segments", len(segs)),
		slog.Uint64("records", records))
	return nil
}

// AllocateRecords reserves count consecutive zeroed record slots in one
// segment and returns the address of the first and the block itself. The
// slots are visible to readers on return.
//
// On failure the store is unchanged.
func (s *Store) AllocateRecords(count, recordSize int, timestamp int64) (Address, []byte, error) {
	seg, index, block, err := s.reserve(count, recordSize)
	if err != nil {
		return Address{}, nil, err
	}
	clear(block)
	s.commit(seg, index, uint32(count), timestamp)
	return makeAddress(seg.index, index), block, nil
}

// Append copies data, a whole number of records, into newly allocated slots.
// The records become visible to readers only once fully copied.
func (s *Store) Append(data []byte, timestamp int64) (Address, error) {
	if len(data) == 0 || len(data)%s.desc.RecordSize != 0 {
		return Address{}, fmt.Errorf("%w: %d bytes is not a whole number of %d byte records",
			ErrRecordSize, len(data), s.desc.RecordSize)
	}
	count := len(data) / s.desc.RecordSize
	seg, index, block, err := s.reserve(count, s.desc.RecordSize)
	if err != nil {
		return Address{}, err
	}
	copy(block, data)
	s.commit(seg, index, uint32(count), timestamp)
	return makeAddress(seg.index, index), nil
}

func (s *Store) reserve(count, recordSize int) (*segment, uint32, []byte, error) {
	switch {
	case s.readonly:
		return nil, 0, nil, ErrReadonly
	case s.backing == nil || s.closed.Load():
		return nil, 0, nil, ErrNotOpen
	case recordSize != s.desc.RecordSize:
		return nil, 0, nil, fmt.Errorf("%w: got %d, store %s uses %d", ErrRecordSize, recordSize, s.desc.Name, s.desc.RecordSize)
	case count < 1 || count > int(s.slotsPerSegment()):
		return nil, 0, nil, fmt.Errorf("%w: %d (segment holds %d)", ErrInvalidCount, count, s.slotsPerSegment())
	}

	segs := *s.segments.Load()
	if n := len(segs); n > 0 {
		last := segs[n-1]
		if used := last.used.Load(); last.capacity-used >= uint32(count) {
			return last, used, last.slot(used, uint32(count), recordSize), nil
		}
	}

	seg, err := s.grow()
	if err != nil {
		return nil, 0, nil, err
	}
	return seg, 0, seg.slot(0, uint32(count), recordSize), nil
}

// grow maps the next segment and publishes the extended segment list. Both
// happen under premap.mu so a background premap never sees a segment that
// is mapped but not yet published.
func (s *Store) grow() (*segment, error) {
	s.premap.mu.Lock()
	defer s.premap.mu.Unlock()

	segs := *s.segments.Load()
	seg, err := s.nextSegmentLocked(uint32(len(segs)))
	if err != nil {
		return nil, err
	}
	grown := make([]*segment, len(segs), len(segs)+1)
	copy(grown, segs)
	grown = append(grown, seg)
	s.segments.Store(&grown)

	info := s.Info()
	info.SegmentCount = uint32(len(grown))
	s.writeInfo(info)
	return seg, nil
}

func (s *Store) commit(seg *segment, index, count uint32, timestamp int64) {
	used := index + count
	putSegmentUsed(seg.data, used)
	seg.used.Store(used)

	info := s.Info()
	if info.NumberOfRecords == 0 {
		info.FirstTimestamp = timestamp
	}
	info.NumberOfRecords += uint64(count)
	info.NumberOfAllocations++
	info.LastTimestamp = timestamp
	s.writeInfo(info)

	s.maybePremap(seg, used)
}

// nextSegmentLocked returns segment index, adopting a premapped segment
// when one is ready. A premapped segment for any other index is stale and
// is unmapped. premap.mu must be held.
func (s *Store) nextSegmentLocked(index uint32) (*segment, error) {
	if int(index) >= s.geometry.MaxSegments {
		return nil, fmt.Errorf("%w: %s has all %d segments in use", ErrAddressSpaceExhausted, s.desc.Name, s.geometry.MaxSegments)
	}

	if ready := s.premap.ready; ready != nil {
		s.premap.ready = nil
		if ready.index == index {
			return ready, nil
		}
		if err := s.backing.Unmap(ready.data, true); err != nil {
			s.logger.Warn("unmap stale premap", slog.Uint64("segment", uint64(ready.index)), slog.Any("error", err))
		}
	}
	return s.mapSegmentLocked(index)
}

// mapSegmentLocked extends the file to hold segment index and maps it. On
// failure the file is truncated back to its previous size. premap.mu must be
// held.
func (s *Store) mapSegmentLocked(index uint32) (*segment, error) {
	size, err := s.backing.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackingStorage, err)
	}

	off := s.segmentOffset(index)
	if want := off + int64(s.geometry.SegmentSize); size < want {
		if err := s.backing.Truncate(want); err != nil {
			s.backing.Truncate(size)
			return nil, fmt.Errorf("%w: extend %s to %d: %v", ErrBackingStorage, s.desc.Name, want, err)
		}
	}

	data, err := s.backing.Map(off, s.geometry.SegmentSize, true)
	if err != nil {
		s.backing.Truncate(size)
		return nil, fmt.Errorf("%w: map %s segment %d: %v", ErrBackingStorage, s.desc.Name, index, err)
	}
	putSegmentHeader(data, segmentHeader{RecordSize: uint32(s.desc.RecordSize), Index: index})
	return &segment{index: index, data: data, capacity: s.slotsPerSegment()}, nil
}

func (s *Store) maybePremap(seg *segment, used uint32) {
	threshold := s.geometry.PremapThreshold
	if threshold <= 0 || float64(used) < threshold*float64(seg.capacity) {
		return
	}
	next := seg.index + 1
	if int(next) >= s.geometry.MaxSegments {
		return
	}
	box := s.submitter.Load()
	if box == nil {
		return
	}

	s.premap.mu.Lock()
	if s.premap.inflight || (s.premap.ready != nil && s.premap.ready.index == next) {
		s.premap.mu.Unlock()
		return
	}
	s.premap.inflight = true
	s.premap.mu.Unlock()

	err := box.Submit(func() { s.premapSegment(next) })
	if err != nil {
		s.premap.mu.Lock()
		s.premap.inflight = false
		s.premap.mu.Unlock()
		s.logger.Debug("premap not scheduled", slog.Any("error", err))
	}
}

func (s *Store) premapSegment(index uint32) {
	s.premap.mu.Lock()
	defer s.premap.mu.Unlock()
	defer func() { s.premap.inflight = false }()

	if s.closed.Load() || len(*s.segments.Load()) != int(index) {
		return
	}
	if ready := s.premap.ready; ready != nil && ready.index == index {
		return
	}
	seg, err := s.mapSegmentLocked(index)
	if err != nil {
		s.logger.Warn("premap failed", slog.Uint64("segment", uint64(index)), slog.Any("error", err))
		return
	}
	s.premap.ready = seg
	s.logger.Debug("segment premapped", slog.Uint64("segment", uint64(index)))
}

// PrevAddress returns the address of the last record, or the null address
// when the store is empty.
func (s *Store) PrevAddress() Address {
	segs := *s.segments.Load()
	for i := len(segs) - 1; i >= 0; i-- {
		if used := segs[i].used.Load(); used > 0 {
			return makeAddress(segs[i].index, used-1)
		}
	}
	return Address{}
}

// Prev returns the last record's slot.
func (s *Store) Prev() ([]byte, bool) {
	addr := s.PrevAddress()
	if !addr.Valid() {
		return nil, false
	}
	rec, err := s.Record(addr)
	return rec, err == nil
}

// Record returns the slot at addr. The slice aliases mapped memory.
func (s *Store) Record(addr Address) ([]byte, error) {
	segs := *s.segments.Load()
	if !addr.Valid() || int(addr.Segment) >= len(segs) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	seg := segs[addr.Segment]
	if addr.Index >= seg.used.Load() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return seg.slot(addr.Index, 1, s.desc.RecordSize), nil
}

// Scan calls fn for each record in address order. Scanning stops at the
// first error, which is returned.
func (s *Store) Scan(fn func(addr Address, rec []byte) error) error {
	for _, seg := range *s.segments.Load() {
		used := seg.used.Load()
		for i := uint32(0); i < used; i++ {
			if err := fn(makeAddress(seg.index, i), seg.slot(i, 1, s.desc.RecordSize)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	n := 0
	for _, seg := range *s.segments.Load() {
		n += int(seg.used.Load())
	}
	return n
}

// Info returns the store's live info.
func (s *Store) Info() InfoRecord {
	return UnmarshalInfoRecord(s.info)
}

func (s *Store) writeInfo(r InfoRecord) {
	r.StoreID = s.desc.ID
	r.RecordSize = uint32(s.desc.RecordSize)
	r.SegmentSize = uint32(s.geometry.SegmentSize)
	r.MarshalTo(s.info)
}

// Close unmaps every segment and closes the backing. A premapped segment
// that was never adopted is discarded and the file shrunk to drop it.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.backing == nil {
		return nil
	}

	writable := !s.readonly
	var errs []error

	s.premap.mu.Lock()
	if ready := s.premap.ready; ready != nil {
		s.premap.ready = nil
		errs = append(errs, s.backing.Unmap(ready.data, writable))
		if int(ready.index) >= len(*s.segments.Load()) {
			errs = append(errs, s.backing.Truncate(s.segmentOffset(ready.index)))
		}
	}
	s.premap.mu.Unlock()

	errs = append(errs, s.unmapAll(writable))
	if writable {
		errs = append(errs, s.backing.Sync())
	}
	errs = append(errs, s.backing.Close())
	s.backing = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close %s: %w", s.desc.Name, err)
	}
	return nil
}

func (s *Store) unmapAll(writable bool) error {
	segs := *s.segments.Swap(&[]*segment{})
	var errs []error
	for _, seg := range segs {
		if err := s.backing.Unmap(seg.data, writable); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
