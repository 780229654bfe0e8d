package tracestore

import (
	"encoding/binary"
	"fmt"
	"io"
)

// File format constants.
const (
	FileHeaderSize    = 4096
	SegmentHeaderSize = 64
	FormatVersion     = 1

	maxNameLen   = 40
	schemaOffset = 64
	maxSchemaLen = FileHeaderSize - schemaOffset
)

var (
	fileMagic    = [4]byte{'T', 'R', 'S', 'T'}
	segmentMagic = [4]byte{'T', 'R', 'S', 'G'}
)

// FileHeader is the first page of every store file.
type FileHeader struct {
	Version     uint16
	StoreID     StoreID
	RecordSize  uint32
	SegmentSize uint32
	MaxSegments uint32
	Name        string
	Schema      string
}

// ReadFileHeader decodes and validates the header at the start of r.
func ReadFileHeader(r io.ReaderAt) (FileHeader, error) {
	var buf [FileHeaderSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return FileHeader{}, fmt.Errorf("%w: read file header: %v", ErrBadHeader, err)
	}
	return decodeFileHeader(buf[:])
}

// WriteTo encodes h into the first page of w.
func (h FileHeader) WriteTo(w io.WriterAt) error {
	buf, err := h.encode()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}
	return nil
}

func (h FileHeader) encode() ([]byte, error) {
	if len(h.Name) > maxNameLen {
		return nil, fmt.Errorf("store name %q longer than %d bytes", h.Name, maxNameLen)
	}
	if len(h.Schema) > maxSchemaLen {
		return nil, fmt.Errorf("schema for %q longer than %d bytes", h.Name, maxSchemaLen)
	}

	buf := make([]byte, FileHeaderSize)
	copy(buf[0:4], fileMagic[:])
	le := binary.LittleEndian
	le.PutUint16(buf[4:], h.Version)
	le.PutUint16(buf[6:], uint16(h.StoreID))
	le.PutUint32(buf[8:], h.RecordSize)
	le.PutUint32(buf[12:], h.SegmentSize)
	le.PutUint32(buf[16:], h.MaxSegments)
	le.PutUint16(buf[20:], uint16(len(h.Schema)))
	le.PutUint16(buf[22:], uint16(len(h.Name)))
	copy(buf[24:24+maxNameLen], h.Name)
	copy(buf[schemaOffset:], h.Schema)
	return buf, nil
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if [4]byte(buf[0:4]) != fileMagic {
		return FileHeader{}, fmt.Errorf("%w: bad file magic %q", ErrBadHeader, buf[0:4])
	}
	le := binary.LittleEndian
	h := FileHeader{
		Version:     le.Uint16(buf[4:]),
		StoreID:     StoreID(le.Uint16(buf[6:])),
		RecordSize:  le.Uint32(buf[8:]),
		SegmentSize: le.Uint32(buf[12:]),
		MaxSegments: le.Uint32(buf[16:]),
	}
	if h.Version != FormatVersion {
		return FileHeader{}, fmt.Errorf("%w: unsupported format version %d", ErrBadHeader, h.Version)
	}

	schemaLen := int(le.Uint16(buf[20:]))
	nameLen := int(le.Uint16(buf[22:]))
	if schemaLen > maxSchemaLen || nameLen > maxNameLen {
		return FileHeader{}, fmt.Errorf("%w: header lengths out of range", ErrBadHeader)
	}
	h.Name = string(buf[24 : 24+nameLen])
	h.Schema = string(buf[schemaOffset : schemaOffset+schemaLen])
	return h, nil
}

// segmentHeader is the first SegmentHeaderSize bytes of a segment.
type segmentHeader struct {
	RecordSize uint32
	Index      uint32
	Used       uint32
}

func putSegmentHeader(b []byte, h segmentHeader) {
	copy(b[0:4], segmentMagic[:])
	le := binary.LittleEndian
	le.PutUint32(b[4:], h.RecordSize)
	le.PutUint32(b[8:], h.Index)
	le.PutUint32(b[12:], h.Used)
}

func putSegmentUsed(b []byte, used uint32) {
	binary.LittleEndian.PutUint32(b[12:], used)
}

func readSegmentHeader(b []byte) (segmentHeader, error) {
	if len(b) < SegmentHeaderSize || [4]byte(b[0:4]) != segmentMagic {
		return segmentHeader{}, fmt.Errorf("%w: bad segment magic", ErrBadHeader)
	}
	le := binary.LittleEndian
	return segmentHeader{
		RecordSize: le.Uint32(b[4:]),
		Index:      le.Uint32(b[8:]),
		Used:       le.Uint32(b[12:]),
	}, nil
}

// Address names one record slot. The zero Address is the null address.
type Address struct {
	Segment uint32
	Index   uint32
	valid   bool
}

// Valid reports whether a names a record.
func (a Address) Valid() bool { return a.valid }

func (a Address) String() string {
	if !a.valid {
		return "<null>"
	}
	return fmt.Sprintf("%d:%d", a.Segment, a.Index)
}

func makeAddress(segment, index uint32) Address {
	return Address{Segment: segment, Index: index, valid: true}
}
