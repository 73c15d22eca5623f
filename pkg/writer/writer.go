// Package writer exports parsed operation records to Parquet, DuckDB and
// JSON Lines, and analysis reports to Excel.
package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/logflow/oplog/internal/model"
	"github.com/logflow/oplog/pkg/analysis"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/parser"
)

// Row is one exported record with the verdict its stream assigned it.
type Row struct {
	Source     string
	Record     *model.Record
	Transition analysis.Transition
}

// Writer defines the interface for writing rows to an output format.
type Writer interface {
	// WriteRow buffers or writes one row.
	WriteRow(row Row) error

	// Close flushes buffered rows and releases resources.
	Close() error

	// RowsWritten returns the number of rows written so far.
	RowsWritten() int64
}

// Config holds writer configuration.
type Config struct {
	// BatchSize is the number of rows per record batch or transaction.
	BatchSize int

	// Compression type for Parquet output.
	Compression CompressionType
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "snappy", "":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case "none", "uncompressed":
		return CompressionNone, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   8192,
		Compression: CompressionSnappy,
	}
}

// Formats lists the record export formats.
var Formats = []string{"parquet", "duckdb", "jsonl"}

// New creates a record writer for format at path.
func New(format, path string, cfg Config) (Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	switch format {
	case "parquet":
		return CreateParquet(path, cfg)
	case "duckdb":
		return NewDuckDBWriter(path, cfg)
	case "jsonl":
		return CreateJSONL(path)
	default:
		return nil, oerrors.New(oerrors.CodeInvalidConfig,
			fmt.Sprintf("unknown export format %q (want parquet, duckdb or jsonl)", format))
	}
}

// Export classifies every record sc produces and writes it to w. The
// scanner's error policy decides what happens to bad lines.
func Export(ctx context.Context, sc *parser.Scanner, source string, w Writer) error {
	classifier := analysis.NewClassifier()
	var n int
	for sc.Next() {
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return oerrors.Wrap(err, oerrors.CodeCanceled, "export canceled")
			}
		}
		rec := sc.Record()
		row := Row{Source: source, Record: rec, Transition: classifier.Classify(rec)}
		if err := w.WriteRow(row); err != nil {
			return oerrors.Wrap(err, oerrors.CodeWriteFailed, "write row").
				WithContext("source", source).WithContext("line", rec.Line)
		}
	}
	return sc.Err()
}

// columns is the flat layout shared by every record format.
var columns = []string{
	"source", "line", "timestamp", "uid", "gid", "pid",
	"operation", "keyword", "ok", "errno",
	"inode", "parent_inode", "name", "size", "offset", "file_handle",
	"flags", "mode", "umask", "setmask",
	"result", "raw_args", "tags", "duration",
	"stream", "verdict", "seek_distance",
}

// flat is a Row spread over the shared columns. Nil pointers are nulls.
type flat struct {
	Source       string     `json:"source"`
	Line         int64      `json:"line"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	UID          uint32     `json:"uid"`
	GID          uint32     `json:"gid"`
	PID          uint32     `json:"pid"`
	Operation    string     `json:"operation"`
	Keyword      string     `json:"keyword"`
	OK           bool       `json:"ok"`
	Errno        *string    `json:"errno,omitempty"`
	Inode        *uint64    `json:"inode,omitempty"`
	ParentInode  *uint64    `json:"parent_inode,omitempty"`
	Name         *string    `json:"name,omitempty"`
	Size         *uint64    `json:"size,omitempty"`
	Offset       *uint64    `json:"offset,omitempty"`
	Handle       *uint64    `json:"file_handle,omitempty"`
	Flags        *uint64    `json:"flags,omitempty"`
	Mode         *uint64    `json:"mode,omitempty"`
	Umask        *uint64    `json:"umask,omitempty"`
	SetMask      *uint64    `json:"setmask,omitempty"`
	Result       *string    `json:"result,omitempty"`
	RawArgs      *string    `json:"raw_args,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Duration     float64    `json:"duration"`
	Stream       *string    `json:"stream,omitempty"`
	Verdict      *string    `json:"verdict,omitempty"`
	SeekDistance *uint64    `json:"seek_distance,omitempty"`
}

func flatten(row Row) flat {
	r := row.Record
	f := flat{
		Source:    row.Source,
		Line:      r.Line,
		UID:       r.UID,
		GID:       r.GID,
		PID:       r.PID,
		Operation: r.Op.String(),
		Keyword:   r.Keyword,
		OK:        r.OK,
		Tags:      r.Tags,
		Duration:  r.Duration,
	}
	if r.HasTimestamp() {
		ts := r.Timestamp
		f.Timestamp = &ts
	}
	f.Errno = optString(r.Errno)
	f.Result = optString(r.Result)
	f.RawArgs = optString(r.RawArgs)
	if r.Args.Has(model.FieldName) {
		name := r.Args.Name
		f.Name = &name
	}

	for _, c := range []struct {
		field model.Field
		dst   **uint64
	}{
		{model.FieldInode, &f.Inode},
		{model.FieldParentInode, &f.ParentInode},
		{model.FieldSize, &f.Size},
		{model.FieldOffset, &f.Offset},
		{model.FieldHandle, &f.Handle},
		{model.FieldFlags, &f.Flags},
		{model.FieldMode, &f.Mode},
		{model.FieldUmask, &f.Umask},
		{model.FieldSetMask, &f.SetMask},
	} {
		if v, ok := r.Args.Get(c.field); ok {
			*c.dst = &v
		}
	}

	if t := row.Transition; t.Verdict != analysis.VerdictNone {
		stream := t.Key.String()
		verdict := t.Verdict.String()
		f.Stream, f.Verdict = &stream, &verdict
		if t.Verdict.IsSeek() {
			d := t.Distance
			f.SeekDistance = &d
		}
	}
	return f
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
