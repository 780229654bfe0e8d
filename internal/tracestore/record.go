package tracestore

import (
	"encoding/binary"
	"fmt"
)

// EventKind is the low nibble of EventTraits.
type EventKind uint8

const (
	KindCall      EventKind = 1 << 0
	KindReturn    EventKind = 1 << 1
	KindLine      EventKind = 1 << 2
	KindException EventKind = 1 << 3
)

func (k EventKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReturn:
		return "return"
	case KindLine:
		return "line"
	case KindException:
		return "exception"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "call":
		return KindCall, nil
	case "return":
		return KindReturn, nil
	case "line":
		return KindLine, nil
	case "exception":
		return KindException, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

const (
	traitKindMask    = 0x0f
	traitCFunction   = 1 << 4
	traitReverseJump = 1 << 7
	traitValueShift  = 8

	// MaxLineOrDepth is the largest line number or call depth a record can
	// hold. Larger values saturate.
	MaxLineOrDepth = 1<<24 - 1
)

// EventTraits packs the event kind, flags and the combined
// line-number-or-call-depth field into 32 bits.
type EventTraits uint32

// NewEventTraits builds traits for kind. value is the line number for line
// events and the call-stack depth otherwise.
func NewEventTraits(kind EventKind, value uint32) EventTraits {
	if value > MaxLineOrDepth {
		value = MaxLineOrDepth
	}
	return EventTraits(uint32(kind)&traitKindMask | value<<traitValueShift)
}

func (t EventTraits) Kind() EventKind              { return EventKind(t & traitKindMask) }
func (t EventTraits) IsLine() bool                 { return t.Kind() == KindLine }
func (t EventTraits) IsReverseJump() bool          { return t&traitReverseJump != 0 }
func (t EventTraits) IsCFunction() bool            { return t&traitCFunction != 0 }
func (t EventTraits) LineOrDepth() uint32          { return uint32(t) >> traitValueShift }
func (t EventTraits) WithReverseJump() EventTraits { return t | traitReverseJump }
func (t EventTraits) WithCFunction() EventTraits   { return t | traitCFunction }

// Counter categories. A category's counters and deltas are populated only
// while it is enabled.
type Counters struct {
	WorkingSetSize     uint64
	PageFaultCount     uint64
	CommittedSize      uint64
	ReadTransferCount  uint64
	WriteTransferCount uint64
	HandleCount        uint64
}

// Deltas holds counter differences to the following record.
type Deltas struct {
	WorkingSet    int64
	PageFault     int64
	Committed     int64
	ReadTransfer  int64
	WriteTransfer int64
	Handle        int64
}

// EventRecordSize is the on-disk size of an EventRecord.
const EventRecordSize = 152

// EventRecord is one entry of the Event store.
type EventRecord struct {
	Timestamp int64
	// Elapsed is the low 32 bits of the following record's timestamp minus
	// this one. Zero until the following record is appended.
	Elapsed  uint32
	Traits   EventTraits
	ThreadID uint32

	CodeObjectHash uint32
	FunctionHash   uint32
	PathHash       uint32
	FullNameHash   uint32
	ModuleNameHash uint32
	ClassNameHash  uint32
	NameHash       uint32

	FirstLineNumber   uint16
	NumberOfLines     uint16
	NumberOfCodeLines uint16

	Counters Counters
	Deltas   Deltas
}

// Event record field offsets.
const (
	offTimestamp = 0
	offElapsed   = 8
	offTraits    = 12
	offThreadID  = 16
	offHashes    = 20
	offLines     = 48
	offCounters  = 56 // pairs of (counter uint64, delta int64)
)

// MarshalTo encodes r into b, which must be at least EventRecordSize long.
func (r *EventRecord) MarshalTo(b []byte) {
	_ = b[EventRecordSize-1]
	le := binary.LittleEndian
	le.PutUint64(b[offTimestamp:], uint64(r.Timestamp))
	le.PutUint32(b[offElapsed:], r.Elapsed)
	le.PutUint32(b[offTraits:], uint32(r.Traits))
	le.PutUint32(b[offThreadID:], r.ThreadID)

	hashes := [7]uint32{
		r.CodeObjectHash, r.FunctionHash, r.PathHash, r.FullNameHash,
		r.ModuleNameHash, r.ClassNameHash, r.NameHash,
	}
	for i, h := range hashes {
		le.PutUint32(b[offHashes+4*i:], h)
	}

	le.PutUint16(b[offLines:], r.FirstLineNumber)
	le.PutUint16(b[offLines+2:], r.NumberOfLines)
	le.PutUint16(b[offLines+4:], r.NumberOfCodeLines)
	le.PutUint16(b[offLines+6:], 0)

	counters := r.Counters.slice()
	for i, c := range counters {
		le.PutUint64(b[offCounters+16*i:], c)
	}
	r.putDeltas(b)
}

// UnmarshalEventRecord decodes an EventRecord from b.
func UnmarshalEventRecord(b []byte) EventRecord {
	_ = b[EventRecordSize-1]
	le := binary.LittleEndian
	r := EventRecord{
		Timestamp: int64(le.Uint64(b[offTimestamp:])),
		Elapsed:   le.Uint32(b[offElapsed:]),
		Traits:    EventTraits(le.Uint32(b[offTraits:])),
		ThreadID:  le.Uint32(b[offThreadID:]),

		CodeObjectHash: le.Uint32(b[offHashes:]),
		FunctionHash:   le.Uint32(b[offHashes+4:]),
		PathHash:       le.Uint32(b[offHashes+8:]),
		FullNameHash:   le.Uint32(b[offHashes+12:]),
		ModuleNameHash: le.Uint32(b[offHashes+16:]),
		ClassNameHash:  le.Uint32(b[offHashes+20:]),
		NameHash:       le.Uint32(b[offHashes+24:]),

		FirstLineNumber:   le.Uint16(b[offLines:]),
		NumberOfLines:     le.Uint16(b[offLines+2:]),
		NumberOfCodeLines: le.Uint16(b[offLines+4:]),
	}

	var counters [6]uint64
	var deltas [6]int64
	for i := range counters {
		counters[i] = le.Uint64(b[offCounters+16*i:])
		deltas[i] = int64(le.Uint64(b[offCounters+16*i+8:]))
	}
	r.Counters = Counters{counters[0], counters[1], counters[2], counters[3], counters[4], counters[5]}
	r.Deltas = Deltas{deltas[0], deltas[1], deltas[2], deltas[3], deltas[4], deltas[5]}
	return r
}

// Backpatch writes only the fields that change after append (Elapsed and
// the deltas) into an existing slot. Identity fields are left untouched so
// a concurrent reader can observe a stale delta but never a torn identity.
func (r *EventRecord) Backpatch(b []byte) {
	_ = b[EventRecordSize-1]
	binary.LittleEndian.PutUint32(b[offElapsed:], r.Elapsed)
	r.putDeltas(b)
}

func (r *EventRecord) putDeltas(b []byte) {
	for i, d := range r.Deltas.slice() {
		binary.LittleEndian.PutUint64(b[offCounters+16*i+8:], uint64(d))
	}
}

func (c Counters) slice() [6]uint64 {
	return [6]uint64{
		c.WorkingSetSize, c.PageFaultCount, c.CommittedSize,
		c.ReadTransferCount, c.WriteTransferCount, c.HandleCount,
	}
}

func (d Deltas) slice() [6]int64 {
	return [6]int64{d.WorkingSet, d.PageFault, d.Committed, d.ReadTransfer, d.WriteTransfer, d.Handle}
}

// FunctionRecordSize is the on-disk size of a FunctionRecord.
const FunctionRecordSize = 40

// FunctionRecord describes a traced function the first time it is seen.
type FunctionRecord struct {
	CodeObjectHash uint32
	FunctionHash   uint32
	PathHash       uint32
	FullNameHash   uint32
	ModuleNameHash uint32
	ClassNameHash  uint32
	NameHash       uint32

	FirstLineNumber   uint16
	NumberOfLines     uint16
	NumberOfCodeLines uint16
}

func (r *FunctionRecord) MarshalTo(b []byte) {
	_ = b[FunctionRecordSize-1]
	le := binary.LittleEndian
	hashes := [7]uint32{
		r.CodeObjectHash, r.FunctionHash, r.PathHash, r.FullNameHash,
		r.ModuleNameHash, r.ClassNameHash, r.NameHash,
	}
	for i, h := range hashes {
		le.PutUint32(b[4*i:], h)
	}
	le.PutUint16(b[28:], r.FirstLineNumber)
	le.PutUint16(b[30:], r.NumberOfLines)
	le.PutUint16(b[32:], r.NumberOfCodeLines)
}

func UnmarshalFunctionRecord(b []byte) FunctionRecord {
	_ = b[FunctionRecordSize-1]
	le := binary.LittleEndian
	return FunctionRecord{
		CodeObjectHash:    le.Uint32(b[0:]),
		FunctionHash:      le.Uint32(b[4:]),
		PathHash:          le.Uint32(b[8:]),
		FullNameHash:      le.Uint32(b[12:]),
		ModuleNameHash:    le.Uint32(b[16:]),
		ClassNameHash:     le.Uint32(b[20:]),
		NameHash:          le.Uint32(b[24:]),
		FirstLineNumber:   le.Uint16(b[28:]),
		NumberOfLines:     le.Uint16(b[30:]),
		NumberOfCodeLines: le.Uint16(b[32:]),
	}
}

// NameKind says which identity hash a NameRecord resolves.
type NameKind uint8

const (
	NamePath NameKind = iota + 1
	NameFullName
	NameModule
	NameClass
	NameShort
)

func (k NameKind) String() string {
	switch k {
	case NamePath:
		return "path"
	case NameFullName:
		return "full_name"
	case NameModule:
		return "module"
	case NameClass:
		return "class"
	case NameShort:
		return "name"
	default:
		return fmt.Sprintf("name_kind(%d)", uint8(k))
	}
}

const (
	// NameRecordSize is the on-disk size of a NameRecord.
	NameRecordSize = 128

	// MaxNameText is the number of text bytes a NameRecord holds.
	MaxNameText = NameRecordSize - 8

	nameFlagTruncated = 1 << 0
)

// NameRecord maps an identity hash back to its text.
type NameRecord struct {
	Hash      uint32
	Kind      NameKind
	Truncated bool
	Text      string
}

// MarshalTo encodes r into b. Text longer than MaxNameText is cut and the
// record is flagged truncated.
func (r *NameRecord) MarshalTo(b []byte) {
	_ = b[NameRecordSize-1]
	text := r.Text
	var flags uint8
	if r.Truncated {
		flags |= nameFlagTruncated
	}
	if len(text) > MaxNameText {
		text = text[:MaxNameText]
		flags |= nameFlagTruncated
	}
	binary.LittleEndian.PutUint32(b[0:], r.Hash)
	b[4] = uint8(r.Kind)
	b[5] = uint8(len(text))
	b[6] = flags
	b[7] = 0
	n := copy(b[8:], text)
	clear(b[8+n : NameRecordSize])
}

func UnmarshalNameRecord(b []byte) NameRecord {
	_ = b[NameRecordSize-1]
	n := int(b[5])
	if n > MaxNameText {
		n = MaxNameText
	}
	return NameRecord{
		Hash:      binary.LittleEndian.Uint32(b[0:]),
		Kind:      NameKind(b[4]),
		Truncated: b[6]&nameFlagTruncated != 0,
		Text:      string(b[8 : 8+n]),
	}
}

// InfoRecordSize is the on-disk size of an InfoRecord.
const InfoRecordSize = 48

// InfoRecord summarises one store. The MetadataInfo store holds one per
// data store, appended when a write session closes.
type InfoRecord struct {
	StoreID             StoreID
	RecordSize          uint32
	NumberOfRecords     uint64
	NumberOfAllocations uint64
	SegmentCount        uint32
	SegmentSize         uint32
	FirstTimestamp      int64
	LastTimestamp       int64
}

func (r *InfoRecord) MarshalTo(b []byte) {
	_ = b[InfoRecordSize-1]
	le := binary.LittleEndian
	le.PutUint16(b[0:], uint16(r.StoreID))
	le.PutUint16(b[2:], 0)
	le.PutUint32(b[4:], r.RecordSize)
	le.PutUint64(b[8:], r.NumberOfRecords)
	le.PutUint64(b[16:], r.NumberOfAllocations)
	le.PutUint32(b[24:], r.SegmentCount)
	le.PutUint32(b[28:], r.SegmentSize)
	le.PutUint64(b[32:], uint64(r.FirstTimestamp))
	le.PutUint64(b[40:], uint64(r.LastTimestamp))
}

func UnmarshalInfoRecord(b []byte) InfoRecord {
	_ = b[InfoRecordSize-1]
	le := binary.LittleEndian
	return InfoRecord{
		StoreID:             StoreID(le.Uint16(b[0:])),
		RecordSize:          le.Uint32(b[4:]),
		NumberOfRecords:     le.Uint64(b[8:]),
		NumberOfAllocations: le.Uint64(b[16:]),
		SegmentCount:        le.Uint32(b[24:]),
		SegmentSize:         le.Uint32(b[28:]),
		FirstTimestamp:      int64(le.Uint64(b[32:])),
		LastTimestamp:       int64(le.Uint64(b[40:])),
	}
}
