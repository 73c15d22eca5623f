package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/oplog/pkg/analysis"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/pipeline"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultPolicyMatchesAnalysis(t *testing.T) {
	p, err := Default().Policy()
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultPolicy(), p)
}

func TestLoadFromLayers(t *testing.T) {
	dir := t.TempDir()
	system := writeFile(t, dir, "system.yaml", `
analysis:
  sequential_threshold: 90
  high_activity_ops: 50
output:
  format: json
`)
	project := writeFile(t, dir, "project.yaml", `
analysis:
  high_activity_ops: 10
  size_buckets: ["4KiB", "1MiB"]
input:
  error_policy: strict
`)

	m := NewManager()
	require.NoError(t, m.LoadFrom(system, filepath.Join(dir, "missing.yaml"), project))
	assert.Equal(t, []string{system, project}, m.GetPaths())

	c := m.Get()
	assert.Equal(t, 90.0, c.Analysis.SequentialThreshold)
	assert.Equal(t, 20.0, c.Analysis.RandomThreshold)
	assert.Equal(t, uint64(10), c.Analysis.HighActivityOps)
	assert.Equal(t, "json", c.Output.Format)

	p, err := c.Policy()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4096, 1 << 20}, p.SizeBounds)

	scan, err := c.ScanConfig()
	require.NoError(t, err)
	assert.Equal(t, pipeline.ErrorPolicyStrict, scan.ErrorPolicy)
	assert.Equal(t, 64*1024, scan.BufferSize)
}

func TestEnvOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "output:\n  format: yaml\n")

	t.Setenv("OPLOG_FORMAT", "json")
	t.Setenv("OPLOG_HIGH_ACTIVITY_OPS", "7")
	t.Setenv("OPLOG_SIZE_BUCKETS", "8KiB, 64KiB")
	t.Setenv("OPLOG_CACHE", "true")

	m := NewManager()
	require.NoError(t, m.LoadFrom(path))

	c := m.Get()
	assert.Equal(t, "json", c.Output.Format)
	assert.Equal(t, uint64(7), c.Analysis.HighActivityOps)
	assert.Equal(t, []string{"8KiB", "64KiB"}, c.Analysis.SizeBuckets)
	assert.True(t, c.Cache.Enabled)
}

func TestEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("OPLOG_MAX_ERRORS", "many")
	err := NewManager().LoadFrom()
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidConfig))
}

func TestLoadFile(t *testing.T) {
	m := NewManager()
	err := m.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, oerrors.IsCode(err, oerrors.CodeFileNotFound))

	bad := writeFile(t, t.TempDir(), "bad.yaml", "analysis: [")
	err = m.LoadFile(bad)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidConfig))
}

func TestPolicyErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad size", func(c *Config) { c.Analysis.SizeBuckets = []string{"lots"} }},
		{"bad latency", func(c *Config) { c.Analysis.LatencyBuckets = []string{"soon"} }},
		{"descending", func(c *Config) { c.Analysis.SizeBuckets = []string{"1MiB", "4KiB"} }},
		{"inverted", func(c *Config) { c.Analysis.RandomThreshold = 95 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			_, err := c.Policy()
			assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidConfig), "got %v", err)
		})
	}
}

func TestScanConfigErrors(t *testing.T) {
	c := Default()
	c.Input.ErrorPolicy = "ignore"
	_, err := c.ScanConfig()
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidConfig))

	c.Input.ErrorPolicy = "quarantine"
	_, err = c.ScanConfig()
	assert.Error(t, err)

	c.Input.Quarantine = "rejected.jsonl"
	c.Input.MaxErrors = 10
	scan, err := c.ScanConfig()
	require.NoError(t, err)
	assert.Equal(t, pipeline.ErrorPolicyQuarantine, scan.ErrorPolicy)
	assert.Equal(t, int64(10), scan.MaxErrors)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	m := NewManager()
	m.Get().Cache.TTL = time.Hour
	m.Get().Analysis.HighActivityOps = 3
	require.NoError(t, m.Save(path))

	other := NewManager()
	require.NoError(t, other.LoadFile(path))
	assert.Equal(t, time.Hour, other.Get().Cache.TTL)
	assert.Equal(t, uint64(3), other.Get().Analysis.HighActivityOps)
}
