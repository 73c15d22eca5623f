package writer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// ParquetWriter writes rows to Parquet format using Apache Arrow.
type ParquetWriter struct {
	cfg    Config
	closer io.Closer // the file, when the writer created it

	schema  *arrow.Schema
	writer  *pqarrow.FileWriter
	builder *array.RecordBuilder

	mu               sync.Mutex
	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// recordSchema returns the Arrow schema for operation rows. Field order
// follows columns.
func recordSchema() *arrow.Schema {
	u32 := arrow.PrimitiveTypes.Uint32
	u64 := arrow.PrimitiveTypes.Uint64
	str := arrow.BinaryTypes.String
	return arrow.NewSchema([]arrow.Field{
		{Name: "source", Type: str},
		{Name: "line", Type: arrow.PrimitiveTypes.Int64},
		{Name: "timestamp", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, Nullable: true},
		{Name: "uid", Type: u32},
		{Name: "gid", Type: u32},
		{Name: "pid", Type: u32},
		{Name: "operation", Type: str},
		{Name: "keyword", Type: str},
		{Name: "ok", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "errno", Type: str, Nullable: true},
		{Name: "inode", Type: u64, Nullable: true},
		{Name: "parent_inode", Type: u64, Nullable: true},
		{Name: "name", Type: str, Nullable: true},
		{Name: "size", Type: u64, Nullable: true},
		{Name: "offset", Type: u64, Nullable: true},
		{Name: "file_handle", Type: u64, Nullable: true},
		{Name: "flags", Type: u64, Nullable: true},
		{Name: "mode", Type: u64, Nullable: true},
		{Name: "umask", Type: u64, Nullable: true},
		{Name: "setmask", Type: u64, Nullable: true},
		{Name: "result", Type: str, Nullable: true},
		{Name: "raw_args", Type: str, Nullable: true},
		{Name: "tags", Type: arrow.ListOf(str), Nullable: true},
		{Name: "duration", Type: arrow.PrimitiveTypes.Float64},
		{Name: "stream", Type: str, Nullable: true},
		{Name: "verdict", Type: str, Nullable: true},
		{Name: "seek_distance", Type: u64, Nullable: true},
	}, nil)
}

// CreateParquet creates path and returns a writer over it.
func CreateParquet(path string, cfg Config) (*ParquetWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w, err := NewParquetWriter(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(output io.Writer, cfg Config) (*ParquetWriter, error) {
	allocator := memory.NewGoAllocator()
	schema := recordSchema()

	// Map compression type
	var codec compress.Compression
	switch cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024), // 1MB
	)

	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	builder := array.NewRecordBuilder(allocator, schema)
	builder.Reserve(cfg.BatchSize)

	return &ParquetWriter{
		cfg:     cfg,
		schema:  schema,
		writer:  writer,
		builder: builder,
	}, nil
}

// WriteRow appends a row and writes a record batch when the batch is full.
func (w *ParquetWriter) WriteRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("parquet writer is closed")
	}

	w.appendRow(flatten(row))
	w.rowCount++

	if w.rowCount >= w.cfg.BatchSize {
		return w.flushBatch()
	}
	return nil
}

// appendRow adds a row to the Arrow builders.
func (w *ParquetWriter) appendRow(f flat) {
	b := w.builder
	b.Field(0).(*array.StringBuilder).Append(f.Source)
	b.Field(1).(*array.Int64Builder).Append(f.Line)
	if f.Timestamp != nil {
		b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(f.Timestamp.UnixMicro()))
	} else {
		b.Field(2).AppendNull()
	}
	b.Field(3).(*array.Uint32Builder).Append(f.UID)
	b.Field(4).(*array.Uint32Builder).Append(f.GID)
	b.Field(5).(*array.Uint32Builder).Append(f.PID)
	b.Field(6).(*array.StringBuilder).Append(f.Operation)
	b.Field(7).(*array.StringBuilder).Append(f.Keyword)
	b.Field(8).(*array.BooleanBuilder).Append(f.OK)
	appendString(b.Field(9), f.Errno)
	appendUint(b.Field(10), f.Inode)
	appendUint(b.Field(11), f.ParentInode)
	appendString(b.Field(12), f.Name)
	appendUint(b.Field(13), f.Size)
	appendUint(b.Field(14), f.Offset)
	appendUint(b.Field(15), f.Handle)
	appendUint(b.Field(16), f.Flags)
	appendUint(b.Field(17), f.Mode)
	appendUint(b.Field(18), f.Umask)
	appendUint(b.Field(19), f.SetMask)
	appendString(b.Field(20), f.Result)
	appendString(b.Field(21), f.RawArgs)

	tags := b.Field(22).(*array.ListBuilder)
	if len(f.Tags) == 0 {
		tags.AppendNull()
	} else {
		tags.Append(true)
		values := tags.ValueBuilder().(*array.StringBuilder)
		for _, t := range f.Tags {
			values.Append(t)
		}
	}

	b.Field(23).(*array.Float64Builder).Append(f.Duration)
	appendString(b.Field(24), f.Stream)
	appendString(b.Field(25), f.Verdict)
	appendUint(b.Field(26), f.SeekDistance)
}

func appendString(b array.Builder, v *string) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.(*array.StringBuilder).Append(*v)
}

func appendUint(b array.Builder, v *uint64) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.(*array.Uint64Builder).Append(*v)
}

// flushBatch writes the current batch to Parquet.
func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	batch := w.builder.NewRecord()
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Flush flushes any buffered data.
func (w *ParquetWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushBatch()
}

// Close closes the writer and releases resources.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flushBatch()
	if cerr := w.writer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close parquet writer: %w", cerr)
	}
	w.builder.Release()

	// pqarrow closes sinks that implement io.Closer itself.
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
			err = cerr
		}
	}
	return err
}

// RowsWritten returns the total number of rows written.
func (w *ParquetWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}
