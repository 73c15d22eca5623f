package parser

import (
	"errors"
	"fmt"

	"github.com/logflow/oplog/pkg/pipeline"
)

var (
	// ErrMalformed is returned when a line lacks a structural anchor such as
	// the identity bracket, the argument list or the duration.
	ErrMalformed = errors.New("parser: malformed line")

	// ErrSchemaMismatch is returned when a known operation's arguments do
	// not match its schema.
	ErrSchemaMismatch = errors.New("parser: argument schema mismatch")

	// ErrBadDuration is returned for negative or non-numeric durations.
	ErrBadDuration = errors.New("parser: invalid duration")

	// ErrBadStatus is returned when the status token is missing or not a
	// recognizable error token.
	ErrBadStatus = errors.New("parser: invalid status")
)

// LineError locates a parse failure in its source.
type LineError struct {
	Source string
	Line   int64
	Err    error
}

func (e *LineError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// classify maps a parse error to the failure category used for counting
// and quarantine.
func classify(err error) pipeline.ErrorType {
	switch {
	case errors.Is(err, ErrSchemaMismatch):
		return pipeline.ErrorTypeSchemaMismatch
	case errors.Is(err, ErrBadDuration):
		return pipeline.ErrorTypeBadDuration
	case errors.Is(err, ErrBadStatus):
		return pipeline.ErrorTypeBadStatus
	case errors.Is(err, ErrMalformed):
		return pipeline.ErrorTypeMalformed
	default:
		return pipeline.ErrorTypeUnknown
	}
}
