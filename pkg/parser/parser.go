// Package parser turns filesystem client access-log lines into
// model.Record values.
//
// LineParser handles a single line. Scanner drives it over a whole log,
// dropping lines that fail to parse according to a pipeline.ErrorHandler
// and counting them. Format is the inverse of LineParser.Parse.
package parser

import (
	"github.com/logflow/oplog/pkg/pipeline"
)

// Config holds scan configuration.
type Config struct {
	// BufferSize is the size of the read buffer in bytes.
	BufferSize int

	// ErrorPolicy decides what happens to lines that fail to parse.
	ErrorPolicy pipeline.ErrorPolicy

	// MaxErrors aborts the scan after this many failed lines (0 = unlimited).
	MaxErrors int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:  64 * 1024,
		ErrorPolicy: pipeline.ErrorPolicySkip,
	}
}

// ErrorHandler builds the line-failure handler for one run. quarantine,
// when non-nil, receives lines dropped under the quarantine policy. Hand the
// same handler to the scanner of every log in the run so MaxErrors bounds
// the run rather than each log.
func (c Config) ErrorHandler(quarantine *pipeline.Quarantine) *pipeline.ErrorHandler {
	h := pipeline.NewErrorHandler(c.ErrorPolicy).WithMaxErrors(c.MaxErrors)
	if quarantine != nil {
		h.WithQuarantineWriter(quarantine.Write)
	}
	return h
}

// Options converts the configuration to scanner options that route line
// failures to h. A nil h gets a handler of its own.
func (c Config) Options(source string, h *pipeline.ErrorHandler) []ScannerOption {
	if h == nil {
		h = c.ErrorHandler(nil)
	}
	opts := []ScannerOption{WithSource(source), WithErrorHandler(h)}
	if c.BufferSize > 0 {
		opts = append(opts, WithBufferSize(c.BufferSize))
	}
	return opts
}
