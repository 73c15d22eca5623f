package parser

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/logflow/oplog/internal/model"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/pipeline"
)

// Stats counts what a Scanner saw.
type Stats struct {
	// Lines is the number of lines read, including blank ones.
	Lines int64
	// Blank lines are ignored and not counted as skipped.
	Blank   int64
	Records int64
	// Skipped is the number of lines dropped because they failed to parse.
	Skipped  int64
	ByReason map[string]int64
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Lines += o.Lines
	s.Blank += o.Blank
	s.Records += o.Records
	s.Skipped += o.Skipped
	if len(o.ByReason) > 0 && s.ByReason == nil {
		s.ByReason = make(map[string]int64, len(o.ByReason))
	}
	for k, v := range o.ByReason {
		s.ByReason[k] += v
	}
}

// Scanner produces records from a log one line at a time, so a log of any
// size is analysed without holding its text in memory. Records come out in
// log order. A Scanner is not safe for concurrent use.
//
//	sc := parser.NewScanner(r, parser.WithSource(path))
//	for sc.Next() {
//		rec := sc.Record()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	ctx        context.Context
	r          *bufio.Reader
	parser     *LineParser
	handler    *pipeline.ErrorHandler
	source     string
	bufferSize int

	offset int64
	rec    *model.Record
	err    error
	done   bool
	stats  Stats
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithSource names the log in errors and quarantined lines.
func WithSource(name string) ScannerOption {
	return func(s *Scanner) { s.source = name }
}

// WithErrorHandler routes line failures through h. The default handler
// skips every bad line.
func WithErrorHandler(h *pipeline.ErrorHandler) ScannerOption {
	return func(s *Scanner) { s.handler = h }
}

// WithContext stops the scan when ctx is done.
func WithContext(ctx context.Context) ScannerOption {
	return func(s *Scanner) { s.ctx = ctx }
}

// WithBufferSize sets the read buffer size in bytes.
func WithBufferSize(n int) ScannerOption {
	return func(s *Scanner) { s.bufferSize = n }
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		ctx:        context.Background(),
		parser:     NewLineParser(),
		bufferSize: 64 * 1024,
		stats:      Stats{ByReason: make(map[string]int64)},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = pipeline.NewErrorHandler(pipeline.ErrorPolicySkip)
	}
	s.r = bufio.NewReaderSize(r, s.bufferSize)
	return s
}

// Next advances to the next record. It returns false at the end of input or
// when the scan stops on an error, which Err then reports.
func (s *Scanner) Next() bool {
	s.rec = nil
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			s.fail(oerrors.Wrap(err, oerrors.CodeCanceled, "scan canceled").
				WithContext("source", s.source))
			return false
		}

		line, err := s.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			s.fail(oerrors.Wrap(err, oerrors.CodeInvalidSource, "read log").
				WithContext("source", s.source))
			return false
		}
		if err == io.EOF {
			s.done = true
			if len(line) == 0 {
				return false
			}
		}

		start := s.offset
		s.offset += int64(len(line))
		s.stats.Lines++

		text := strings.TrimRight(string(line), "\r\n")
		if strings.TrimSpace(text) == "" {
			s.stats.Blank++
			continue
		}

		rec, perr := s.parser.Parse(text)
		if perr == nil {
			rec.Line = s.stats.Lines
			s.rec = rec
			s.stats.Records++
			return true
		}

		if !s.reject(text, start, perr) {
			return false
		}
	}
	return false
}

// reject hands a failed line to the error handler and reports whether the
// scan continues.
func (s *Scanner) reject(text string, offset int64, perr error) bool {
	lerr := &LineError{Source: s.source, Line: s.stats.Lines, Err: perr}
	kind := classify(perr)

	cont, herr := s.handler.HandleError(pipeline.ErrorRecord{
		LineNumber: s.stats.Lines,
		ByteOffset: offset,
		RawData:    text,
		ErrorType:  kind,
		Message:    lerr.Error(),
		SourceFile: s.source,
		Timestamp:  time.Now(),
	})
	if !cont {
		if e, ok := herr.(*oerrors.Error); ok && e.Cause == nil {
			e.Cause = lerr
		}
		s.fail(herr)
		return false
	}
	s.stats.Skipped++
	s.stats.ByReason[kind.String()]++
	return true
}

func (s *Scanner) fail(err error) {
	s.err = err
	s.done = true
}

// Record returns the record produced by the last successful Next.
func (s *Scanner) Record() *model.Record {
	return s.rec
}

// Err returns the error that stopped the scan, or nil at a clean end of
// input.
func (s *Scanner) Err() error {
	return s.err
}

// Stats returns the counts so far.
func (s *Scanner) Stats() Stats {
	out := s.stats
	out.ByReason = make(map[string]int64, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		out.ByReason[k] = v
	}
	return out
}

// ParseAll parses a complete log held in memory.
func ParseAll(text string, opts ...ScannerOption) ([]*model.Record, Stats, error) {
	sc := NewScanner(strings.NewReader(text), opts...)
	var records []*model.Record
	for sc.Next() {
		records = append(records, sc.Record())
	}
	return records, sc.Stats(), sc.Err()
}
