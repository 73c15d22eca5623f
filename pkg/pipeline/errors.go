// Package pipeline provides the policies that decide what happens to log
// lines the parser cannot turn into records.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	oerrors "github.com/logflow/oplog/pkg/errors"
)

// ErrorPolicy determines how line failures are handled.
type ErrorPolicy int

const (
	// ErrorPolicySkip drops bad lines and continues the scan.
	ErrorPolicySkip ErrorPolicy = iota
	// ErrorPolicyStrict aborts on the first bad line.
	ErrorPolicyStrict
	// ErrorPolicyQuarantine drops bad lines and copies them to a side file.
	ErrorPolicyQuarantine
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicySkip:
		return "skip"
	case ErrorPolicyStrict:
		return "strict"
	case ErrorPolicyQuarantine:
		return "quarantine"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses a policy name. Unknown names fall back to skip,
// which never aborts a run.
func ParseErrorPolicy(s string) ErrorPolicy {
	switch s {
	case "strict":
		return ErrorPolicyStrict
	case "quarantine":
		return ErrorPolicyQuarantine
	default:
		return ErrorPolicySkip
	}
}

// ErrorType categorizes line failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeMalformed
	ErrorTypeSchemaMismatch
	ErrorTypeBadDuration
	ErrorTypeBadStatus
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeMalformed:
		return "malformed"
	case ErrorTypeSchemaMismatch:
		return "schema_mismatch"
	case ErrorTypeBadDuration:
		return "bad_duration"
	case ErrorTypeBadStatus:
		return "bad_status"
	default:
		return "unknown"
	}
}

// MarshalText renders the type by name in quarantine files.
func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ErrorRecord describes one line that failed to parse.
type ErrorRecord struct {
	// LineNumber is the 1-based line number in the source.
	LineNumber int64 `json:"line"`
	// ByteOffset is the position of the line start in the source.
	ByteOffset int64 `json:"byte_offset"`
	// RawData is the line as read, without its terminator.
	RawData   string    `json:"raw"`
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"error"`
	// SourceFile names the log the line came from.
	SourceFile string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"seen_at"`
}

// ErrorHandler applies an ErrorPolicy and keeps failure counts.
type ErrorHandler struct {
	mu sync.Mutex

	policy       ErrorPolicy
	maxErrors    int64 // 0 = unlimited
	errorCount   int64
	skippedCount int64
	byType       map[ErrorType]int64

	onSkip           func(ErrorRecord)
	quarantineWriter func(ErrorRecord) error
	quarantineErrs   int64
	quarantineErr    error // first write failure
}

// NewErrorHandler creates a handler with the given policy.
func NewErrorHandler(policy ErrorPolicy) *ErrorHandler {
	return &ErrorHandler{
		policy: policy,
		byType: make(map[ErrorType]int64),
	}
}

// WithMaxErrors aborts the scan when more than max lines have failed.
func (h *ErrorHandler) WithMaxErrors(max int64) *ErrorHandler {
	h.maxErrors = max
	return h
}

// WithOnSkip sets a callback invoked for every skipped line. It runs with
// the handler locked and must not call back into it.
func (h *ErrorHandler) WithOnSkip(fn func(ErrorRecord)) *ErrorHandler {
	h.onSkip = fn
	return h
}

// WithQuarantineWriter sets the sink for quarantined lines.
func (h *ErrorHandler) WithQuarantineWriter(fn func(ErrorRecord) error) *ErrorHandler {
	h.quarantineWriter = fn
	return h
}

// HandleError records a failure. It returns false with an error when the
// scan must stop.
func (h *ErrorHandler) HandleError(rec ErrorRecord) (continueProcessing bool, returnErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errorCount++
	h.byType[rec.ErrorType]++

	if h.maxErrors > 0 && h.errorCount > h.maxErrors {
		return false, oerrors.New(oerrors.CodeTooManyErrors, "maximum line failures exceeded").
			WithContext("max", h.maxErrors).
			WithContext("line", rec.LineNumber).
			WithContext("source", rec.SourceFile)
	}

	switch h.policy {
	case ErrorPolicyStrict:
		return false, oerrors.New(oerrors.CodeParseFailed, "line rejected by strict error policy").
			WithContext("line", rec.LineNumber).
			WithContext("source", rec.SourceFile)

	case ErrorPolicyQuarantine:
		if h.quarantineWriter != nil {
			if err := h.quarantineWriter(rec); err != nil {
				if h.quarantineErrs == 0 {
					h.quarantineErr = err
				}
				h.quarantineErrs++
			}
		}
		fallthrough

	case ErrorPolicySkip:
		h.skippedCount++
		if h.onSkip != nil {
			h.onSkip(rec)
		}
		return true, nil

	default:
		return false, fmt.Errorf("pipeline: unknown error policy %d", h.policy)
	}
}

// Stats returns failure statistics.
func (h *ErrorHandler) Stats() ErrorStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	byType := make(map[string]int64, len(h.byType))
	for t, n := range h.byType {
		byType[t.String()] = n
	}
	return ErrorStats{
		ErrorCount:       h.errorCount,
		SkippedCount:     h.skippedCount,
		QuarantineErrors: h.quarantineErrs,
		QuarantineErr:    h.quarantineErr,
		ByType:           byType,
		Policy:           h.policy,
	}
}

// ErrorStats contains failure statistics.
type ErrorStats struct {
	ErrorCount   int64
	SkippedCount int64
	// QuarantineErrors counts skipped lines the quarantine writer failed to
	// keep; QuarantineErr is the first such failure.
	QuarantineErrors int64
	QuarantineErr    error
	ByType           map[string]int64
	Policy           ErrorPolicy
}
