package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/logflow/oplog/pkg/analysis"
)

const sampleLog = `2024.03.01 10:00:00.000000 [uid:0,gid:0,pid:9] read (42,4096,0,7): OK (4096) <0.001000>
2024.03.01 10:00:00.002000 [uid:0,gid:0,pid:9] read (42,4096,4096,7): OK (4096) <0.001000>
2024.03.01 10:00:00.003000 [uid:0,gid:0,pid:9] read (42,4096,65536,7): OK (4096) <0.002000>
2024.03.01 10:00:00.004000 [uid:0,gid:0,pid:9] lookup (1,x): ENOENT <0.000050>
garbage
`

func TestMetricsObserve(t *testing.T) {
	rep, err := analysis.AnalyzeText(sampleLog, analysis.DefaultPolicy())
	require.NoError(t, err)

	m := NewMetrics()
	m.Observe(rep)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.Lines))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.Records))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Operations.WithLabelValues("read")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FailedOps.WithLabelValues("ENOENT")))
	assert.Equal(t, float64(3*4096), testutil.ToFloat64(m.Bytes.WithLabelValues("read")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("sequential")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("forward_seek")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.SequentialRatio), 1e-9)
}

func TestWriteTextfile(t *testing.T) {
	rep, err := analysis.AnalyzeText(sampleLog, analysis.DefaultPolicy())
	require.NoError(t, err)

	m := NewMetrics()
	m.Observe(rep)
	m.RunSeconds.Set(1.5)

	path := filepath.Join(t.TempDir(), "oplog.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `oplog_operations{operation="read"} 3`)
	assert.Contains(t, text, "oplog_run_seconds 1.5")
	assert.Contains(t, text, "# HELP oplog_lines Number of log lines read.")
}

func TestSampler(t *testing.T) {
	cfg := DefaultOTLPConfig("oplog")
	assert.Equal(t, sdktrace.AlwaysSample().Description(), cfg.Sampler().Description())

	cfg.SamplingRatio = 0
	assert.Equal(t, sdktrace.NeverSample().Description(), cfg.Sampler().Description())

	cfg.SamplingRatio = 0.25
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), cfg.Sampler().Description())
}
