package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONLWriter writes one JSON object per row.
type JSONLWriter struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	rows   int64
	closed bool
}

// CreateJSONL creates path and returns a writer over it.
func CreateJSONL(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := NewJSONLWriter(f)
	w.closer = f
	return w, nil
}

// NewJSONLWriter writes to out. Close flushes but does not close out.
func NewJSONLWriter(out io.Writer) *JSONLWriter {
	buf := bufio.NewWriterSize(out, 64*1024)
	return &JSONLWriter{buf: buf, enc: json.NewEncoder(buf)}
}

// WriteRow encodes one row followed by a newline.
func (w *JSONLWriter) WriteRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("jsonl writer is closed")
	}
	if err := w.enc.Encode(flatten(row)); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Close flushes buffered output.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// RowsWritten returns the number of rows encoded.
func (w *JSONLWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
