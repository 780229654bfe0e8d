package tracestore

import (
	"encoding/binary"
	"strings"
)

// ColumnType is the relational type of a column.
type ColumnType int

const (
	Integer ColumnType = iota
	Text
)

func (t ColumnType) String() string {
	if t == Text {
		return "TEXT"
	}
	return "INTEGER"
}

// Column projects one value out of a raw record. Value returns int64 for
// Integer columns and string for Text columns.
type Column struct {
	Name  string
	Type  ColumnType
	Value func(rec []byte) any
}

// Descriptor fixes a store's identity, record width and relational schema.
type Descriptor struct {
	ID         StoreID
	Name       string
	RecordSize int
	Columns    []Column

	// Timestamp extracts a record's timestamp, or is nil for stores whose
	// records carry none.
	Timestamp func(rec []byte) int64
}

// Schema returns the CREATE TABLE statement for d. It is written into the
// store's file header and compared on load.
func (d Descriptor) Schema() string {
	return DDL(d.Name, d.Columns)
}

// Filename is the store's file name inside a session directory.
func (d Descriptor) Filename() string {
	return d.Name + ".dat"
}

// DDL renders a CREATE TABLE statement.
func DDL(name string, cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(name)
	b.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(c.Type.String())
	}
	b.WriteByte(')')
	return b.String()
}

// MetadataInfoSchema is the schema every readable session's MetadataInfo
// store must carry.
const MetadataInfoSchema = "CREATE TABLE MetadataInfo(StoreId INTEGER, StoreName TEXT, " +
	"RecordSize INTEGER, NumberOfRecords INTEGER, NumberOfAllocations INTEGER, " +
	"SegmentCount INTEGER, SegmentSize INTEGER, FirstTimestamp INTEGER, LastTimestamp INTEGER)"

func u16At(off int) func([]byte) any {
	return func(b []byte) any { return int64(binary.LittleEndian.Uint16(b[off:])) }
}

func u32At(off int) func([]byte) any {
	return func(b []byte) any { return int64(binary.LittleEndian.Uint32(b[off:])) }
}

func i64At(off int) func([]byte) any {
	return func(b []byte) any { return int64(binary.LittleEndian.Uint64(b[off:])) }
}

func intCol(name string, value func([]byte) any) Column {
	return Column{Name: name, Type: Integer, Value: value}
}

func traitsAt(b []byte) EventTraits {
	return EventTraits(binary.LittleEndian.Uint32(b[offTraits:]))
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func hashColumns(base int) []Column {
	names := []string{
		"CodeObjectHash", "FunctionHash", "PathHash", "FullNameHash",
		"ModuleNameHash", "ClassNameHash", "NameHash",
	}
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = intCol(n, u32At(base+4*i))
	}
	return cols
}

func lineColumns(base int) []Column {
	return []Column{
		intCol("FirstLineNumber", u16At(base)),
		intCol("NumberOfLines", u16At(base+2)),
		intCol("NumberOfCodeLines", u16At(base+4)),
	}
}

func eventColumns() []Column {
	cols := []Column{
		intCol("Timestamp", i64At(offTimestamp)),
		intCol("Elapsed", u32At(offElapsed)),
		intCol("Traits", u32At(offTraits)),
		{Name: "Kind", Type: Text, Value: func(b []byte) any { return traitsAt(b).Kind().String() }},
		intCol("LineOrDepth", func(b []byte) any { return int64(traitsAt(b).LineOrDepth()) }),
		intCol("ReverseJump", func(b []byte) any { return boolInt(traitsAt(b).IsReverseJump()) }),
		intCol("ThreadId", u32At(offThreadID)),
	}
	cols = append(cols, hashColumns(offHashes)...)
	cols = append(cols, lineColumns(offLines)...)

	counters := []struct{ count, delta string }{
		{"WorkingSetSize", "WorkingSetDelta"},
		{"PageFaultCount", "PageFaultDelta"},
		{"CommittedSize", "CommittedDelta"},
		{"ReadTransferCount", "ReadTransferDelta"},
		{"WriteTransferCount", "WriteTransferDelta"},
		{"HandleCount", "HandleDelta"},
	}
	for i, c := range counters {
		off := offCounters + 16*i
		cols = append(cols, intCol(c.count, i64At(off)), intCol(c.delta, i64At(off+8)))
	}
	return cols
}

func functionColumns() []Column {
	return append(hashColumns(0), lineColumns(28)...)
}

func nameColumns() []Column {
	return []Column{
		intCol("Hash", u32At(0)),
		{Name: "Kind", Type: Text, Value: func(b []byte) any { return NameKind(b[4]).String() }},
		intCol("Truncated", func(b []byte) any { return boolInt(b[6]&nameFlagTruncated != 0) }),
		{Name: "Text", Type: Text, Value: func(b []byte) any { return UnmarshalNameRecord(b).Text }},
	}
}

func metadataInfoColumns() []Column {
	return []Column{
		intCol("StoreId", u16At(0)),
		{Name: "StoreName", Type: Text, Value: func(b []byte) any {
			return StoreID(binary.LittleEndian.Uint16(b)).String()
		}},
		intCol("RecordSize", u32At(4)),
		intCol("NumberOfRecords", i64At(8)),
		intCol("NumberOfAllocations", i64At(16)),
		intCol("SegmentCount", u32At(24)),
		intCol("SegmentSize", u32At(28)),
		intCol("FirstTimestamp", i64At(32)),
		intCol("LastTimestamp", i64At(40)),
	}
}

// Built-in store descriptors.
var (
	EventDescriptor = Descriptor{
		ID:         StoreEvent,
		Name:       "Event",
		RecordSize: EventRecordSize,
		Columns:    eventColumns(),
		Timestamp: func(b []byte) int64 {
			return int64(binary.LittleEndian.Uint64(b[offTimestamp:]))
		},
	}

	FunctionDescriptor = Descriptor{
		ID:         StoreFunction,
		Name:       "Function",
		RecordSize: FunctionRecordSize,
		Columns:    functionColumns(),
	}

	NameDescriptor = Descriptor{
		ID:         StoreName,
		Name:       "Name",
		RecordSize: NameRecordSize,
		Columns:    nameColumns(),
	}

	MetadataInfoDescriptor = Descriptor{
		ID:         StoreMetadataInfo,
		Name:       "MetadataInfo",
		RecordSize: InfoRecordSize,
		Columns:    metadataInfoColumns(),
	}
)

// Descriptors returns the stores of a trace session, metadata last.
func Descriptors() []Descriptor {
	return []Descriptor{EventDescriptor, FunctionDescriptor, NameDescriptor, MetadataInfoDescriptor}
}
