package pipeline

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	oerrors "github.com/logflow/oplog/pkg/errors"
)

func TestErrorPolicy_String(t *testing.T) {
	tests := []struct {
		policy   ErrorPolicy
		expected string
	}{
		{ErrorPolicyStrict, "strict"},
		{ErrorPolicySkip, "skip"},
		{ErrorPolicyQuarantine, "quarantine"},
		{ErrorPolicy(99), "unknown"},
	}

	for _, tt := range tests {
		got := tt.policy.String()
		if got != tt.expected {
			t.Errorf("ErrorPolicy(%d).String() = %q, want %q", tt.policy, got, tt.expected)
		}
	}
}

func TestParseErrorPolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected ErrorPolicy
	}{
		{"strict", ErrorPolicyStrict},
		{"skip", ErrorPolicySkip},
		{"quarantine", ErrorPolicyQuarantine},
		{"unknown", ErrorPolicySkip}, // default never aborts
		{"", ErrorPolicySkip},
	}

	for _, tt := range tests {
		got := ParseErrorPolicy(tt.input)
		if got != tt.expected {
			t.Errorf("ParseErrorPolicy(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestErrorHandler_Strict(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicyStrict)

	cont, err := handler.HandleError(ErrorRecord{
		LineNumber: 1,
		ByteOffset: 100,
		Message:    "test error",
		ErrorType:  ErrorTypeMalformed,
		Timestamp:  time.Now(),
	})

	if cont {
		t.Error("Expected continueProcessing=false for strict policy")
	}
	if !oerrors.IsCode(err, oerrors.CodeParseFailed) {
		t.Errorf("Expected E201 error for strict policy, got %v", err)
	}

	stats := handler.Stats()
	if stats.ErrorCount != 1 {
		t.Errorf("Expected ErrorCount=1, got %d", stats.ErrorCount)
	}
	if stats.SkippedCount != 0 {
		t.Errorf("Expected SkippedCount=0, got %d", stats.SkippedCount)
	}
}

func TestErrorHandler_Skip(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicySkip)

	var skipped ErrorRecord
	handler.WithOnSkip(func(rec ErrorRecord) {
		skipped = rec
	})

	cont, err := handler.HandleError(ErrorRecord{
		LineNumber: 42,
		ByteOffset: 1000,
		Message:    "argument schema mismatch",
		ErrorType:  ErrorTypeSchemaMismatch,
		Timestamp:  time.Now(),
	})

	if !cont {
		t.Error("Expected continueProcessing=true for skip policy")
	}
	if err != nil {
		t.Errorf("Expected no error for skip policy, got: %v", err)
	}
	if skipped.LineNumber != 42 {
		t.Errorf("Expected skipped line=42, got %d", skipped.LineNumber)
	}

	stats := handler.Stats()
	if stats.SkippedCount != 1 {
		t.Errorf("Expected SkippedCount=1, got %d", stats.SkippedCount)
	}
	if stats.ByType["schema_mismatch"] != 1 {
		t.Errorf("Expected one schema_mismatch, got %v", stats.ByType)
	}
}

func TestErrorHandler_Quarantine(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicyQuarantine)

	var quarantined ErrorRecord
	handler.WithQuarantineWriter(func(rec ErrorRecord) error {
		quarantined = rec
		return nil
	})

	cont, err := handler.HandleError(ErrorRecord{
		LineNumber: 99,
		RawData:    "[uid:0,gid:0,pid:1] read (1): OK <x>",
		Message:    "invalid duration",
		ErrorType:  ErrorTypeBadDuration,
		Timestamp:  time.Now(),
	})

	if !cont {
		t.Error("Expected continueProcessing=true for quarantine policy")
	}
	if err != nil {
		t.Errorf("Expected no error for quarantine policy, got: %v", err)
	}
	if quarantined.LineNumber != 99 {
		t.Errorf("Expected quarantined line=99, got %d", quarantined.LineNumber)
	}
	if quarantined.RawData != "[uid:0,gid:0,pid:1] read (1): OK <x>" {
		t.Errorf("Expected quarantined raw data preserved")
	}
	if handler.Stats().SkippedCount != 1 {
		t.Errorf("Expected quarantined line to count as skipped")
	}
}

func TestErrorHandler_QuarantineWriteFailure(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicyQuarantine).
		WithQuarantineWriter(func(ErrorRecord) error { return errors.New("disk full") })

	cont, err := handler.HandleError(ErrorRecord{LineNumber: 1})
	if !cont || err != nil {
		t.Fatalf("Expected scan to continue, got cont=%v err=%v", cont, err)
	}
	handler.HandleError(ErrorRecord{LineNumber: 2})

	stats := handler.Stats()
	if stats.QuarantineErrors != 2 {
		t.Errorf("Expected QuarantineErrors=2, got %d", stats.QuarantineErrors)
	}
	if stats.QuarantineErr == nil || stats.QuarantineErr.Error() != "disk full" {
		t.Errorf("Expected first quarantine error, got %v", stats.QuarantineErr)
	}
	if stats.SkippedCount != 2 {
		t.Errorf("Expected failed quarantine writes to still skip, got %d", stats.SkippedCount)
	}
}

func TestErrorHandler_MaxErrors(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicySkip).WithMaxErrors(3)

	for i := 0; i < 4; i++ {
		cont, err := handler.HandleError(ErrorRecord{
			LineNumber: int64(i + 1),
			Message:    "error",
			Timestamp:  time.Now(),
		})

		if i < 3 {
			if !cont || err != nil {
				t.Errorf("Error %d: expected continue=true, got err=%v", i, err)
			}
		} else {
			if cont {
				t.Error("Error 4: expected continue=false after max errors")
			}
			if !oerrors.IsFatal(err) {
				t.Errorf("Error 4: expected fatal E204, got %v", err)
			}
		}
	}
}

func TestErrorHandler_SharedMaxErrors(t *testing.T) {
	handler := NewErrorHandler(ErrorPolicySkip).WithMaxErrors(5)

	var stopped bool
	for _, source := range []string{"a.log", "b.log", "c.log"} {
		for line := int64(1); line <= 3 && !stopped; line++ {
			cont, err := handler.HandleError(ErrorRecord{LineNumber: line, SourceFile: source})
			if !cont {
				if !oerrors.IsCode(err, oerrors.CodeTooManyErrors) {
					t.Fatalf("Expected E204, got %v", err)
				}
				if source != "b.log" || line != 3 {
					t.Errorf("Expected abort at b.log:3, got %s:%d", source, line)
				}
				stopped = true
			}
		}
	}
	if !stopped {
		t.Error("Expected the limit to span sources")
	}
}

func TestQuarantine_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	q, err := OpenQuarantine(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := q.Write(ErrorRecord{LineNumber: int64(i), ErrorType: ErrorTypeBadStatus}); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if q.Count() != 3 {
		t.Errorf("Expected Count=3, got %d", q.Count())
	}
	if q.Path() != path {
		t.Errorf("Expected Path=%q, got %q", path, q.Path())
	}
}

func TestQuarantine_CloseReportsFlushFailure(t *testing.T) {
	q, err := OpenQuarantine(filepath.Join(t.TempDir(), "q.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Write(ErrorRecord{LineNumber: 1}); err != nil {
		t.Fatal(err)
	}
	q.file.Close()

	if err := q.Close(); err == nil {
		t.Error("Expected Close to report the lost buffered lines")
	}
}
