package tui

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressCountsBytes(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out, 10, "analyzing")

	a, err := io.ReadAll(p.Wrap(strings.NewReader("hello")))
	require.NoError(t, err)
	b, err := io.ReadAll(p.Wrap(strings.NewReader("world")))
	require.NoError(t, err)
	require.NoError(t, p.Finish())

	assert.Equal(t, "helloworld", string(a)+string(b))
	assert.Equal(t, int64(10), p.Read())
}

func TestProgressWithoutWriter(t *testing.T) {
	p := NewProgress(nil, -1, "")
	_, err := io.Copy(io.Discard, p.Wrap(strings.NewReader("abc")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Read())
	assert.NoError(t, p.Finish())
}

func TestPrintRunSummary(t *testing.T) {
	var out bytes.Buffer
	PrintRunSummary(&out, NewStyles(false), RunSummary{
		Logs:     2,
		Records:  12345,
		Skipped:  1,
		Duration: 2 * time.Second,
	})
	assert.Equal(t, "! 12,345 records from 2 log(s), 1 skipped (2.0s, 6,172 records/sec)\n", out.String())

	out.Reset()
	PrintRunSummary(&out, NewStyles(false), RunSummary{Logs: 1, Records: 10, Unquarantined: 3})
	assert.Equal(t, "! 10 records from 1 log(s), 0 skipped, 3 not quarantined\n", out.String())

	out.Reset()
	PrintRunSummary(&out, NewStyles(false), RunSummary{Cached: true})
	assert.Equal(t, "✓ report served from cache\n", out.String())
}

func TestPlainStyles(t *testing.T) {
	s := NewStyles(false)
	assert.Equal(t, "▸ Summary", s.Heading("Summary"))
}
