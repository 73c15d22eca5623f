package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/oplog/pkg/analysis"
	oerrors "github.com/logflow/oplog/pkg/errors"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestGenerateThenAnalyze(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log.gz")
	reportPath := filepath.Join(dir, "report.json")
	metricsPath := filepath.Join(dir, "oplog.prom")
	xlsxPath := filepath.Join(dir, "report.xlsx")

	require.NoError(t, execute(t, "generate", "-n", "2000", "--seed", "7", "-o", logPath, "--log-level", "error"))

	require.NoError(t, execute(t, "analyze", "-q", "--no-progress", "--log-level", "error",
		"-f", "json", "-o", reportPath, "--metrics-file", metricsPath, "--xlsx", xlsxPath, logPath))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var rep analysis.Report
	require.NoError(t, json.Unmarshal(data, &rep))

	assert.Equal(t, int64(2000), rep.Parse.Records)
	assert.Equal(t, uint64(2000), rep.Summary.TotalOps)
	assert.Equal(t, []string{"access.log.gz"}, rep.Meta.Sources)
	assert.NotEmpty(t, rep.Meta.RunID)
	assert.NotZero(t, rep.Pattern.Transitions)

	for _, p := range []string{metricsPath, xlsxPath} {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, fi.Size(), p)
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log")
	out := filepath.Join(dir, "ops.jsonl")

	require.NoError(t, execute(t, "generate", "-n", "300", "-o", logPath, "--log-level", "error"))
	require.NoError(t, execute(t, "export", "-q", "--log-level", "error", "-o", out, logPath))

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())
}

func TestAnalyzeMissingLog(t *testing.T) {
	err := execute(t, "analyze", "-q", "--log-level", "error", filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestDetectExportFormat(t *testing.T) {
	tests := map[string]string{
		"ops.parquet": "parquet",
		"ops":         "parquet",
		"ops.duckdb":  "duckdb",
		"ops.db":      "duckdb",
		"ops.jsonl":   "jsonl",
		"ops.ndjson":  "jsonl",
	}
	for path, want := range tests {
		assert.Equal(t, want, detectExportFormat(path), path)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(oerrors.New(oerrors.CodeInvalidConfig, "bad")))
	assert.Equal(t, 130, exitCode(oerrors.New(oerrors.CodeCanceled, "stop")))
	assert.Equal(t, 4, exitCode(oerrors.New(oerrors.CodeTooManyErrors, "limit")))
	assert.Equal(t, 4, exitCode(fmt.Errorf("scan: %w", oerrors.New(oerrors.CodeInvariantViolation, "bad record"))))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

func TestMaxErrorsSpansLogs(t *testing.T) {
	dir := t.TempDir()
	var logs []string
	for _, name := range []string{"a.log", "b.log", "c.log"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(
			"[uid:0,gid:0,pid:1] getattr (1): OK <0.000010>\njunk\njunk\njunk\n"), 0o644))
		logs = append(logs, p)
	}
	t.Cleanup(func() {
		f := analyzeCmd.Flags()
		f.Set("max-errors", "0")
		f.Set("error-policy", "skip")
		f.Set("quarantine", "")
		f.Set("output", "")
	})

	err := execute(t, append([]string{"analyze", "-q", "--log-level", "error", "--max-errors", "5"}, logs...)...)
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeTooManyErrors))
	assert.Equal(t, 4, exitCode(err))

	quarantine := filepath.Join(dir, "rejected.jsonl")
	require.NoError(t, execute(t, append([]string{"analyze", "-q", "--log-level", "error",
		"--max-errors", "9", "--error-policy", "quarantine", "--quarantine", quarantine,
		"-o", filepath.Join(dir, "report.txt")}, logs...)...))

	data, err := os.ReadFile(quarantine)
	require.NoError(t, err)
	assert.Equal(t, 9, bytes.Count(data, []byte("\n")))
}
