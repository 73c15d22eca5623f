package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/pipeline"
)

const mixedLog = `[uid:0,gid:0,pid:1] getattr (1): OK <0.000010>
[uid:0,gid:0,pid:1] getattr (1): OK <0.0000
[uid:0,gid:0,pid:1] getattr (2): OK <0.000020>
`

func TestScannerSkipsBadLines(t *testing.T) {
	records, stats, err := ParseAll(mixedLog)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Line)
	assert.Equal(t, int64(3), records[1].Line)
	assert.Equal(t, uint64(2), records[1].Args.Inode)

	assert.Equal(t, int64(3), stats.Lines)
	assert.Equal(t, int64(2), stats.Records)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, map[string]int64{"malformed": 1}, stats.ByReason)
}

func TestScannerBlankLinesAndCRLF(t *testing.T) {
	log := "\r\n[uid:0,gid:0,pid:1] statfs (1): OK <0.1>\r\n\n   \n[uid:0,gid:0,pid:1] statfs (1): OK <0.2>"
	records, stats, err := ParseAll(log)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, 0.2, records[1].Duration)
	assert.Equal(t, int64(5), stats.Lines)
	assert.Equal(t, int64(3), stats.Blank)
	assert.Zero(t, stats.Skipped)
}

func TestScannerStrict(t *testing.T) {
	h := pipeline.NewErrorHandler(pipeline.ErrorPolicyStrict)
	records, stats, err := ParseAll(mixedLog, WithErrorHandler(h), WithSource("client.log"))

	require.Error(t, err)
	assert.Len(t, records, 1)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeParseFailed))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "client.log:2")
	assert.Zero(t, stats.Skipped)
}

func TestScannerMaxErrors(t *testing.T) {
	log := strings.Repeat("junk\n", 5)
	h := pipeline.NewErrorHandler(pipeline.ErrorPolicySkip).WithMaxErrors(3)
	_, stats, err := ParseAll(log, WithErrorHandler(h))

	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeTooManyErrors))
	assert.Equal(t, int64(3), stats.Skipped)
}

func TestScannerQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejected.jsonl")
	q, err := pipeline.OpenQuarantine(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ErrorPolicy = pipeline.ErrorPolicyQuarantine
	records, stats, err := ParseAll(mixedLog, cfg.Options("client.log", cfg.ErrorHandler(q))...)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	assert.Len(t, records, 2)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(1), q.Count())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	assert.Equal(t, float64(2), rec["line"])
	assert.Equal(t, "malformed", rec["error_type"])
	assert.Equal(t, "client.log", rec["source"])
	assert.Equal(t, "[uid:0,gid:0,pid:1] getattr (1): OK <0.0000", rec["raw"])
	assert.False(t, sc.Scan())
}

func TestScannerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := NewScanner(strings.NewReader(mixedLog), WithContext(ctx))
	assert.False(t, sc.Next())
	assert.True(t, oerrors.IsCode(sc.Err(), oerrors.CodeCanceled))
	assert.ErrorIs(t, sc.Err(), context.Canceled)
}

func TestStatsAdd(t *testing.T) {
	var s Stats
	s.Add(Stats{Lines: 3, Records: 2, Skipped: 1, ByReason: map[string]int64{"malformed": 1}})
	s.Add(Stats{Lines: 2, Records: 1, Blank: 1})
	assert.Equal(t, Stats{Lines: 5, Records: 3, Blank: 1, Skipped: 1, ByReason: map[string]int64{"malformed": 1}}, s)
}
