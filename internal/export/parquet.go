// Package export writes trace stores out as Parquet files.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/roach88/tracer/internal/tracestore"
)

// Options holds Parquet writer settings.
type Options struct {
	// RowGroupSize is the number of records per row group.
	RowGroupSize     int64
	CompressionCodec compress.Compression
	CompressionLevel int
}

// DefaultOptions returns LZ4 compression with large row groups.
func DefaultOptions() Options {
	return Options{
		RowGroupSize:     122880,
		CompressionCodec: compress.Codecs.Lz4Raw,
		CompressionLevel: 0,
	}
}

// Schema returns the Arrow schema of a store's table. Integer columns are
// int64, text columns are strings. No column is nullable.
func Schema(desc tracestore.Descriptor) *arrow.Schema {
	fields := make([]arrow.Field, len(desc.Columns))
	for i, c := range desc.Columns {
		typ := arrow.DataType(arrow.PrimitiveTypes.Int64)
		if c.Type == tracestore.Text {
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: c.Name, Type: typ}
	}
	md := arrow.NewMetadata([]string{"store", "schema"}, []string{desc.Name, desc.Schema()})
	return arrow.NewSchema(fields, &md)
}

// WriteFile exports st to a Parquet file at path, creating parent
// directories. It returns the number of rows written.
func WriteFile(path string, st *tracestore.Store, opts Options) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	n, err := Write(f, st, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}

// Write exports every record of st in address order to w.
func Write(w io.Writer, st *tracestore.Store, opts Options) (int64, error) {
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultOptions().RowGroupSize
	}
	desc := st.Descriptor()
	schema := Schema(desc)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(opts.CompressionCodec),
		parquet.WithCompressionLevel(opts.CompressionLevel),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	var rows, pending int64
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := builder.NewRecord()
		defer rec.Release()
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("failed to write row group: %w", err)
		}
		pending = 0
		return nil
	}

	err = st.Scan(func(_ tracestore.Address, b []byte) error {
		for i, c := range desc.Columns {
			switch v := c.Value(b).(type) {
			case string:
				builder.Field(i).(*array.StringBuilder).Append(v)
			case int64:
				builder.Field(i).(*array.Int64Builder).Append(v)
			default:
				return fmt.Errorf("column %s: unsupported value %T", c.Name, v)
			}
		}
		rows++
		pending++
		if pending >= opts.RowGroupSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		writer.Close()
		return rows, err
	}

	if err := writer.Close(); err != nil {
		return rows, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return rows, nil
}
