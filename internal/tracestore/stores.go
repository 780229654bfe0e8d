package tracestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// StoreID identifies a store within a session.
type StoreID uint16

const (
	StoreEvent StoreID = iota + 1
	StoreFunction
	StoreName
	StoreMetadataInfo
)

func (id StoreID) String() string {
	switch id {
	case StoreEvent:
		return "Event"
	case StoreFunction:
		return "Function"
	case StoreName:
		return "Name"
	case StoreMetadataInfo:
		return "MetadataInfo"
	default:
		return fmt.Sprintf("Store(%d)", uint16(id))
	}
}

// Flags control how a store set is opened.
type Flags uint32

const (
	// Readonly loads existing stores for scanning instead of creating them.
	Readonly Flags = 1 << iota
)

// Size describes a placement buffer: Bytes long, aligned to Align.
type Size struct {
	Bytes int
	Align int
}

const (
	storesHeaderSize = 64
	storesAlign      = 64
)

var storesMagic = [4]byte{'T', 'S', 'E', 'T'}

// SizeOfStores returns the placement buffer size InitializeStores needs for
// descs. It depends only on the number of stores.
func SizeOfStores(descs []Descriptor) Size {
	return Size{Bytes: storesHeaderSize + len(descs)*InfoRecordSize, Align: storesAlign}
}

// Option configures a store set.
type Option func(*options)

type options struct {
	backing BackingFactory
	logger  *slog.Logger
}

// WithBacking replaces the file system backing.
func WithBacking(f BackingFactory) Option {
	return func(o *options) { o.backing = f }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) *options {
	o := &options{backing: OpenFile, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stores is the set of stores of one session, constructed over a caller
// supplied placement buffer holding a small header and one live-info block
// per store.
type Stores struct {
	buf      []byte
	dir      string
	readonly bool
	stores   []*Store
	logger   *slog.Logger
	closed   bool
}

// InitializeStores builds the store set over buf, which must be at least
// SizeOfStores(descs).Bytes long. Stores are constructed but not yet opened;
// the trace context loads or creates each one on its pool.
func InitializeStores(buf []byte, dir string, descs []Descriptor, geometry Geometry, flags Flags, opts ...Option) (*Stores, error) {
	need := SizeOfStores(descs)
	if len(buf) < need.Bytes {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(buf), need.Bytes)
	}
	seen := make(map[StoreID]bool, len(descs))
	for _, d := range descs {
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate store id %s", d.ID)
		}
		seen[d.ID] = true
	}

	o := applyOptions(opts)
	buf = buf[:need.Bytes]
	clear(buf)
	copy(buf[0:4], storesMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(descs)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(flags))

	s := &Stores{
		buf:      buf,
		dir:      dir,
		readonly: flags&Readonly != 0,
		logger:   o.logger,
	}
	for i, d := range descs {
		off := storesHeaderSize + i*InfoRecordSize
		info := buf[off : off+InfoRecordSize : off+InfoRecordSize]
		s.stores = append(s.stores, newStore(d, dir, geometry, s.readonly, info, o))
	}
	return s, nil
}

func (s *Stores) Dir() string    { return s.dir }
func (s *Stores) Readonly() bool { return s.readonly }
func (s *Stores) All() []*Store  { return s.stores }

// Get returns the store with id.
func (s *Stores) Get(id StoreID) (*Store, error) {
	for _, st := range s.stores {
		if st.ID() == id {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, id)
}

// Metadata returns the MetadataInfo store, or nil when the set has none.
func (s *Stores) Metadata() *Store {
	st, _ := s.Get(StoreMetadataInfo)
	return st
}

// SetSubmitter binds the background pool of every store.
func (s *Stores) SetSubmitter(sub Submitter) {
	for _, st := range s.stores {
		st.SetSubmitter(sub)
	}
}

// LastInfo returns the most recent MetadataInfo record for each store, as
// recorded when the writing session closed.
func (s *Stores) LastInfo() (map[StoreID]InfoRecord, error) {
	meta := s.Metadata()
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, StoreMetadataInfo)
	}
	out := make(map[StoreID]InfoRecord)
	err := meta.Scan(func(_ Address, rec []byte) error {
		r := UnmarshalInfoRecord(rec)
		out[r.StoreID] = r
		return nil
	})
	return out, err
}

// SortedIDs returns the ids of the set in ascending order.
func (s *Stores) SortedIDs() []StoreID {
	ids := make([]StoreID, 0, len(s.stores))
	for _, st := range s.stores {
		ids = append(ids, st.ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes every store. In write mode one MetadataInfo record per data
// store is appended first. Only the first call has any effect.
func (s *Stores) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if meta := s.Metadata(); !s.readonly && meta != nil && meta.backing != nil {
		var rec [InfoRecordSize]byte
		for _, st := range s.stores {
			if st == meta || st.backing == nil {
				continue
			}
			info := st.Info()
			info.MarshalTo(rec[:])
			if _, err := meta.Append(rec[:], info.LastTimestamp); err != nil {
				errs = append(errs, fmt.Errorf("record info for %s: %w", st.Name(), err))
			}
		}
	}
	for _, st := range s.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
