package capture

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tracer/internal/tracestore"
)

// Identity names a traced function. The hashes are derived from the names
// and cached here so a hot capture loop does not rehash.
type Identity struct {
	Path     string
	Module   string
	Class    string
	Name     string
	FullName string

	FirstLineNumber   uint16
	NumberOfLines     uint16
	NumberOfCodeLines uint16

	CodeObjectHash uint32
	FunctionHash   uint32
	PathHash       uint32
	FullNameHash   uint32
	ModuleNameHash uint32
	ClassNameHash  uint32
	NameHash       uint32
}

// Hash returns the 32-bit identity hash of s. Text is NFC-normalised first
// so canonically equal names hash equal. The empty string hashes to 0.
func Hash(s string) uint32 {
	if s == "" {
		return 0
	}
	return uint32(xxh3.HashString(norm.NFC.String(s)))
}

// NewIdentity computes the identity of a function. FullName joins the
// non-empty module, class and name with dots.
func NewIdentity(path, module, class, name string, firstLine, numLines, numCodeLines uint16) *Identity {
	var parts []string
	for _, p := range []string{module, class, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	full := strings.Join(parts, ".")

	return &Identity{
		Path:              path,
		Module:            module,
		Class:             class,
		Name:              name,
		FullName:          full,
		FirstLineNumber:   firstLine,
		NumberOfLines:     numLines,
		NumberOfCodeLines: numCodeLines,

		CodeObjectHash: Hash(path + "\x00" + full + "\x00" + strconv.Itoa(int(firstLine))),
		FunctionHash:   Hash(path + "\x00" + full),
		PathHash:       Hash(path),
		FullNameHash:   Hash(full),
		ModuleNameHash: Hash(module),
		ClassNameHash:  Hash(class),
		NameHash:       Hash(name),
	}
}

func (id *Identity) apply(r *tracestore.EventRecord) {
	r.CodeObjectHash = id.CodeObjectHash
	r.FunctionHash = id.FunctionHash
	r.PathHash = id.PathHash
	r.FullNameHash = id.FullNameHash
	r.ModuleNameHash = id.ModuleNameHash
	r.ClassNameHash = id.ClassNameHash
	r.NameHash = id.NameHash
	r.FirstLineNumber = id.FirstLineNumber
	r.NumberOfLines = id.NumberOfLines
	r.NumberOfCodeLines = id.NumberOfCodeLines
}

func (id *Identity) functionRecord() tracestore.FunctionRecord {
	return tracestore.FunctionRecord{
		CodeObjectHash:    id.CodeObjectHash,
		FunctionHash:      id.FunctionHash,
		PathHash:          id.PathHash,
		FullNameHash:      id.FullNameHash,
		ModuleNameHash:    id.ModuleNameHash,
		ClassNameHash:     id.ClassNameHash,
		NameHash:          id.NameHash,
		FirstLineNumber:   id.FirstLineNumber,
		NumberOfLines:     id.NumberOfLines,
		NumberOfCodeLines: id.NumberOfCodeLines,
	}
}

// nameRecords returns one record per non-empty name.
func (id *Identity) nameRecords() []tracestore.NameRecord {
	all := []tracestore.NameRecord{
		{Hash: id.PathHash, Kind: tracestore.NamePath, Text: id.Path},
		{Hash: id.FullNameHash, Kind: tracestore.NameFullName, Text: id.FullName},
		{Hash: id.ModuleNameHash, Kind: tracestore.NameModule, Text: id.Module},
		{Hash: id.ClassNameHash, Kind: tracestore.NameClass, Text: id.Class},
		{Hash: id.NameHash, Kind: tracestore.NameShort, Text: id.Name},
	}
	out := all[:0]
	for _, r := range all {
		if r.Text != "" {
			out = append(out, r)
		}
	}
	return out
}
