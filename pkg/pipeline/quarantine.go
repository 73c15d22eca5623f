package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Quarantine writes rejected lines to a JSON-lines file so they can be
// inspected or replayed after the log format is fixed.
type Quarantine struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	buf   *bufio.Writer
	enc   *json.Encoder
	count int64
}

// OpenQuarantine creates (or truncates) the quarantine file at path.
func OpenQuarantine(path string) (*Quarantine, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create quarantine file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &Quarantine{
		path: path,
		file: f,
		buf:  buf,
		enc:  json.NewEncoder(buf),
	}, nil
}

// Write appends one rejected line. It matches the signature expected by
// ErrorHandler.WithQuarantineWriter.
func (q *Quarantine) Write(rec ErrorRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := q.enc.Encode(rec); err != nil {
		return err
	}
	q.count++
	return nil
}

// Count returns the number of lines accepted for writing.
func (q *Quarantine) Count() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Path returns the quarantine file path.
func (q *Quarantine) Path() string {
	return q.path
}

// Close flushes and closes the file.
func (q *Quarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.buf.Flush(); err != nil {
		q.file.Close()
		return err
	}
	return q.file.Close()
}
