package analysis

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/oplog/internal/model"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/testing/generators"
)

func ioRecord(op model.Operation, handle, offset, size uint64) *model.Record {
	r := &model.Record{Op: op, Keyword: op.String(), OK: true, Duration: 0.001}
	r.Args.Set(model.FieldInode, 42)
	r.Args.Set(model.FieldSize, size)
	r.Args.Set(model.FieldOffset, offset)
	r.Args.Set(model.FieldHandle, handle)
	return r
}

func read(handle, offset, size uint64) *model.Record {
	return ioRecord(model.OpRead, handle, offset, size)
}

func analyze(t *testing.T, records ...*model.Record) *Report {
	t.Helper()
	rep, err := Analyze(records, DefaultPolicy())
	require.NoError(t, err)
	return rep
}

func TestSequentialReads(t *testing.T) {
	rep := analyze(t, read(7, 0, 4096), read(7, 4096, 4096), read(7, 8192, 4096))

	assert.Equal(t, uint64(2), rep.Pattern.Transitions)
	assert.Equal(t, uint64(2), rep.Pattern.Sequential)
	assert.Equal(t, uint64(0), rep.Pattern.Seeks.Count)
	assert.Equal(t, uint64(12288), rep.Reads.Bytes)
	assert.Equal(t, PatternSequential, rep.Pattern.Verdict)
	require.NotNil(t, rep.Pattern.SequentialPercent)
	assert.Equal(t, 100.0, *rep.Pattern.SequentialPercent)
}

func TestForwardSeek(t *testing.T) {
	rep := analyze(t, read(7, 0, 4096), read(7, 100000, 4096))

	assert.Equal(t, uint64(1), rep.Pattern.Transitions)
	assert.Equal(t, uint64(1), rep.Pattern.ForwardSeeks)
	assert.Equal(t, uint64(0), rep.Pattern.BackwardSeeks)
	assert.Equal(t, uint64(95904), rep.Pattern.Seeks.MaxDistance)
	require.NotNil(t, rep.Pattern.Seeks.AvgDistance)
	assert.Equal(t, 95904.0, *rep.Pattern.Seeks.AvgDistance)
	assert.Equal(t, PatternRandom, rep.Pattern.Verdict)
}

func TestInterleavedStreamsAreSequential(t *testing.T) {
	// Two handles on the same inode, contiguous within each handle but not
	// across the interleaving.
	rep := analyze(t,
		read(1, 0, 4096),
		read(2, 1<<20, 4096),
		read(1, 4096, 4096),
		read(2, 1<<20+4096, 4096),
		read(1, 8192, 4096),
		read(2, 1<<20+8192, 4096),
	)

	assert.Equal(t, uint64(2), rep.Pattern.FirstAccesses)
	assert.Equal(t, uint64(4), rep.Pattern.Transitions)
	assert.Equal(t, uint64(4), rep.Pattern.Sequential)
	assert.Equal(t, uint64(0), rep.Pattern.Seeks.Count)
}

func TestInodeStreamWithoutHandle(t *testing.T) {
	c := NewClassifier()
	r := &model.Record{Op: model.OpWrite, OK: true}
	r.Args.Set(model.FieldInode, 9)
	r.Args.Set(model.FieldSize, 10)
	r.Args.Set(model.FieldOffset, 0)

	tr := c.Classify(r)
	assert.Equal(t, VerdictFirst, tr.Verdict)
	assert.Equal(t, model.StreamKey{ID: 9}, tr.Key)
}

func TestSeekDistanceIsSymmetric(t *testing.T) {
	const d = 50000
	c := NewClassifier()
	c.Classify(read(3, 0, 4096))

	fwd := c.Classify(read(3, 4096+d, 4096))
	require.Equal(t, VerdictForwardSeek, fwd.Verdict)
	assert.Equal(t, uint64(d), fwd.Distance)

	// Expected offset is now 4096+d+4096; land d before it.
	back := c.Classify(read(3, 4096+4096, 4096))
	require.Equal(t, VerdictBackwardSeek, back.Verdict)
	assert.Equal(t, uint64(d), back.Distance)
}

func TestClassifierIgnoresFailuresAndMetadata(t *testing.T) {
	c := NewClassifier()
	failed := read(1, 0, 4096)
	failed.OK = false
	failed.Errno = "EIO"
	assert.Equal(t, VerdictNone, c.Classify(failed).Verdict)

	getattr := &model.Record{Op: model.OpGetattr, OK: true}
	getattr.Args.Set(model.FieldInode, 1)
	assert.Equal(t, VerdictNone, c.Classify(getattr).Verdict)
	assert.Equal(t, 0, c.Streams())
}

func TestSizeStatisticsClosedForm(t *testing.T) {
	sizes := []uint64{512, 4096, 4096, 65536, 1 << 20, 3 << 20}
	var records []*model.Record
	var offset, sum uint64
	for i, s := range sizes {
		r := read(uint64(i+1), offset, s)
		r.Duration = float64(i+1) * 0.001
		records = append(records, r)
		offset += s
		sum += s
	}
	rep := analyze(t, records...)

	require.NotNil(t, rep.Reads.Size)
	assert.Equal(t, uint64(len(sizes)), rep.Reads.Count)
	assert.Equal(t, sum, rep.Reads.Bytes)
	assert.Equal(t, uint64(512), rep.Reads.Size.Min)
	assert.Equal(t, uint64(3<<20), rep.Reads.Size.Max)
	assert.Equal(t, float64(sum)/6, rep.Reads.Size.Avg)
	assert.Equal(t, float64(4096+65536)/2, rep.Reads.Size.Median)
	assert.False(t, rep.Reads.Size.Approximate)

	counts := make([]uint64, len(rep.Reads.Buckets))
	for i, b := range rep.Reads.Buckets {
		counts[i] = b.Count
	}
	// <=4K, <=8K, <=16K, <=32K, <=64K, <=128K, <=1M, >1M
	assert.Equal(t, []uint64{3, 0, 0, 0, 1, 0, 1, 1}, counts)
	assert.Nil(t, rep.Reads.Buckets[len(counts)-1].UpperBound)

	require.NotNil(t, rep.Reads.Duration)
	assert.InDelta(t, 0.021, rep.Reads.Duration.Total, 1e-12)
	assert.InDelta(t, 0.0035, rep.Reads.Duration.Median, 1e-12)
	assert.InDelta(t, 0.001, rep.Reads.Duration.Min, 1e-12)
	assert.InDelta(t, 0.006, rep.Reads.Duration.Max, 1e-12)
}

func TestResultPayloadBytes(t *testing.T) {
	short := read(1, 0, 4096)
	short.Result = "100"
	rep := analyze(t, short)

	assert.Equal(t, uint64(100), rep.Reads.Bytes)
	assert.Equal(t, uint64(4096), rep.Reads.Size.Max)
}

func TestThroughput(t *testing.T) {
	t.Run("defined", func(t *testing.T) {
		r := read(1, 0, 4096)
		r.Duration = 0.5
		w := ioRecord(model.OpWrite, 2, 0, 1024)
		w.Duration = 0.25
		rep := analyze(t, r, w)

		require.NotNil(t, rep.Throughput.Read)
		require.NotNil(t, rep.Throughput.Write)
		require.NotNil(t, rep.Throughput.Overall)
		assert.Equal(t, 8192.0, *rep.Throughput.Read)
		assert.Equal(t, 4096.0, *rep.Throughput.Write)
		assert.InDelta(t, 5120/0.75, *rep.Throughput.Overall, 1e-9)
		require.NotNil(t, rep.ReadWrite)
		assert.Equal(t, 4.0, *rep.ReadWrite)
	})

	t.Run("zero duration", func(t *testing.T) {
		r := read(1, 0, 4096)
		r.Duration = 0
		rep := analyze(t, r)

		assert.Nil(t, rep.Throughput.Read)
		assert.Nil(t, rep.Throughput.Overall)
		assert.Nil(t, rep.Throughput.Write)
		assert.Nil(t, rep.ReadWrite)
	})
}

func TestReadWriteShares(t *testing.T) {
	failed := read(1, 4096, 4096)
	failed.OK = false
	failed.Errno = "EIO"
	rep := analyze(t,
		read(1, 0, 4096), failed, read(1, 8192, 4096),
		ioRecord(model.OpWrite, 2, 0, 1024),
	)

	require.NotNil(t, rep.ReadShare)
	require.NotNil(t, rep.WriteShare)
	assert.Equal(t, 75.0, *rep.ReadShare)
	assert.Equal(t, 25.0, *rep.WriteShare)

	rep = analyze(t)
	assert.Nil(t, rep.ReadShare)
	assert.Nil(t, rep.WriteShare)
}

func TestEmptyInput(t *testing.T) {
	rep := analyze(t)

	assert.Zero(t, rep.Summary.TotalOps)
	assert.Empty(t, rep.Operations)
	assert.Nil(t, rep.Summary.OpsPerSecond)
	assert.Nil(t, rep.Pattern.SequentialPercent)
	assert.Nil(t, rep.Pattern.RandomPercent)
	assert.Equal(t, PatternInsufficientData, rep.Pattern.Verdict)
	assert.Nil(t, rep.Reads.Size)
	assert.Nil(t, rep.Latency.Duration)
	assert.Nil(t, rep.Throughput.Overall)
	assert.Nil(t, rep.Concurrency.AvgOpsPerStream)
	assert.Nil(t, rep.Gaps)
	for _, b := range rep.Reads.Buckets {
		assert.Nil(t, b.Percent)
	}
}

func TestGaps(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stamp := func(r *model.Record, d time.Duration) *model.Record {
		r.Timestamp = base.Add(d)
		return r
	}

	t.Run("omitted without timestamps", func(t *testing.T) {
		rep := analyze(t, read(1, 0, 10), read(1, 10, 10))
		assert.Nil(t, rep.Gaps)
		assert.Nil(t, rep.Summary.SpanSeconds)
	})

	t.Run("log order", func(t *testing.T) {
		rep := analyze(t,
			stamp(read(1, 0, 10), 0),
			stamp(read(1, 10, 10), 2*time.Second),
			stamp(read(1, 20, 10), time.Second), // out of order
			stamp(read(1, 30, 10), 5*time.Second),
		)
		require.NotNil(t, rep.Gaps)
		assert.Equal(t, uint64(2), rep.Gaps.Count)
		assert.Equal(t, uint64(1), rep.Gaps.OutOfOrder)
		assert.Equal(t, 2.0, rep.Gaps.Min)
		assert.Equal(t, 4.0, rep.Gaps.Max)
		require.NotNil(t, rep.Gaps.Avg)
		assert.Equal(t, 3.0, *rep.Gaps.Avg)

		require.NotNil(t, rep.Summary.SpanSeconds)
		assert.Equal(t, 5.0, *rep.Summary.SpanSeconds)
		require.NotNil(t, rep.Summary.OpsPerSecond)
		assert.Equal(t, 0.8, *rep.Summary.OpsPerSecond)
	})
}

func TestPatternVerdict(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		pct  float64
		want string
	}{
		{100, PatternSequential},
		{80, PatternSequential},
		{79.9, PatternMixed},
		{50, PatternMixed},
		{20, PatternRandom},
		{0, PatternRandom},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Verdict(tt.pct), "pct=%v", tt.pct)
	}

	p.SequentialThreshold = 95
	assert.Equal(t, PatternMixed, p.Verdict(90))
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"inverted thresholds", func(p *Policy) { p.RandomThreshold = 90 }},
		{"no size bounds", func(p *Policy) { p.SizeBounds = nil }},
		{"descending sizes", func(p *Policy) { p.SizeBounds = []uint64{8192, 4096} }},
		{"zero latency bound", func(p *Policy) { p.LatencyBounds = []time.Duration{0} }},
		{"zero distribution limit", func(p *Policy) { p.DistributionLimit = 0 }},
	}
	require.NoError(t, DefaultPolicy().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidConfig))

			_, err = Analyze(nil, p)
			assert.Error(t, err)
		})
	}
}

func TestInvariantViolationIsFatal(t *testing.T) {
	bad := read(1, math.MaxUint64-10, 4096)
	bad.Line = 12
	_, err := Analyze([]*model.Record{read(1, 0, 4096), bad}, DefaultPolicy())

	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvariantViolation))
	assert.True(t, oerrors.IsFatal(err))
	assert.ErrorIs(t, err, model.ErrInvalidRecord)

	nan := read(1, 0, 1)
	nan.Duration = math.NaN()
	_, err = Analyze([]*model.Record{nan}, DefaultPolicy())
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvariantViolation))
}

func TestOperationsAndFailures(t *testing.T) {
	getattr := func(ok bool) *model.Record {
		r := &model.Record{Op: model.OpGetattr, Keyword: "getattr", OK: ok}
		r.Args.Set(model.FieldInode, 1)
		if !ok {
			r.Errno = "ENOENT"
		}
		return r
	}
	unknown := &model.Record{Op: model.OpUnknown, Keyword: "fallocate", RawArgs: "1,2,3", OK: true}

	rep := analyze(t, getattr(true), getattr(false), getattr(true), unknown)

	require.Len(t, rep.Operations, 2)
	assert.Equal(t, "getattr", rep.Operations[0].Operation)
	assert.Equal(t, uint64(3), rep.Operations[0].Count)
	assert.Equal(t, uint64(1), rep.Operations[0].Failed)
	assert.Equal(t, 75.0, *rep.Operations[0].Percent)
	assert.Equal(t, "unknown", rep.Operations[1].Operation)

	assert.Equal(t, map[string]uint64{"fallocate": 1}, rep.Unknown)
	assert.Equal(t, map[string]uint64{"ENOENT": 1}, rep.Errors)
	assert.Equal(t, uint64(4), rep.Summary.TotalOps)
	assert.Equal(t, uint64(1), rep.Summary.FailedOps)
	assert.Equal(t, uint64(1), rep.Summary.UniqueInodes)
}

func TestConcurrency(t *testing.T) {
	p := DefaultPolicy()
	p.HighActivityOps = 3

	open := func(handle uint64) *model.Record {
		r := &model.Record{Op: model.OpOpen, OK: true}
		r.Args.Set(model.FieldInode, 42)
		r.Args.Set(model.FieldFlags, 0x8000)
		r.Args.Set(model.FieldHandle, handle)
		return r
	}
	release := func(handle uint64) *model.Record {
		r := &model.Record{Op: model.OpRelease, OK: true}
		r.Args.Set(model.FieldInode, 42)
		r.Args.Set(model.FieldHandle, handle)
		return r
	}

	records := []*model.Record{
		open(1), open(2),
		read(1, 0, 10), read(1, 10, 10), read(1, 20, 10),
		read(2, 0, 10),
		release(1),
		open(3),
	}
	rep, err := Analyze(records, p)
	require.NoError(t, err)

	c := rep.Concurrency
	assert.Equal(t, uint64(3), c.Streams)
	require.NotNil(t, c.AvgOpsPerStream)
	assert.InDelta(t, 8.0/3, *c.AvgOpsPerStream, 1e-12)
	assert.Equal(t, 2, c.PeakOpenHandles)
	assert.Equal(t, 2, c.OpenAtEnd)

	require.Len(t, c.HighActivityStreams, 1)
	assert.Equal(t, Activity{Key: "fh:1", Ops: 5}, c.HighActivityStreams[0])
	require.Len(t, c.HighActivityInodes, 1)
	assert.Equal(t, Activity{Key: "ino:42", Ops: 8}, c.HighActivityInodes[0])
}

func TestAnalyzeTextCountsSkipped(t *testing.T) {
	log := strings.Join([]string{
		"[uid:0,gid:0,pid:1] getattr (1): OK <0.000010>",
		"this line is garbage",
		"",
		"[uid:0,gid:0,pid:1] getattr (1): OK <0.000020>",
	}, "\n")
	rep, err := AnalyzeText(log, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), rep.Summary.TotalOps)
	assert.Equal(t, int64(2), rep.Parse.Records)
	assert.Equal(t, int64(1), rep.Parse.Skipped)
	assert.Equal(t, int64(1), rep.Parse.Blank)
}

func TestAnalyzeSourcesMerges(t *testing.T) {
	logs := []string{
		"[uid:0,gid:0,pid:1] read (5,4096,0,1): OK <0.001>\n" +
			"[uid:0,gid:0,pid:1] read (5,4096,4096,1): OK <0.001>\n",
		"[uid:0,gid:0,pid:2] read (5,4096,8192,1): OK <0.001>\n" +
			"bad line\n",
	}
	var sources []Source
	for i, text := range logs {
		text := text
		sources = append(sources, Source{
			Name: []string{"a.log", "b.log"}[i],
			Open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader(text)), nil
			},
		})
	}

	rep, err := AnalyzeSources(context.Background(), sources, DefaultPolicy(), Options{Parallelism: 2})
	require.NoError(t, err)

	assert.Equal(t, uint64(3), rep.Reads.Count)
	assert.Equal(t, int64(1), rep.Parse.Skipped)
	// The second log's read starts a new stream even though it continues
	// the first log's offsets.
	assert.Equal(t, uint64(2), rep.Pattern.FirstAccesses)
	assert.Equal(t, uint64(1), rep.Pattern.Sequential)
	assert.Equal(t, uint64(2), rep.Concurrency.Streams)
}

func textSources(logs ...string) []Source {
	sources := make([]Source, len(logs))
	for i, text := range logs {
		text := text
		sources[i] = Source{
			Name: fmt.Sprintf("%d.log", i),
			Open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader(text)), nil
			},
		}
	}
	return sources
}

func TestAnalyzeSourcesMaxErrorsCoversRun(t *testing.T) {
	const bad = "junk\njunk\njunk\n"
	scan := parser.DefaultConfig()

	t.Run("exceeded across logs", func(t *testing.T) {
		scan.MaxErrors = 5
		errs := scan.ErrorHandler(nil)
		_, err := AnalyzeSources(context.Background(), textSources(bad, bad, bad), DefaultPolicy(),
			Options{Scan: scan, Errors: errs, Parallelism: 1})

		require.Error(t, err)
		assert.True(t, oerrors.IsCode(err, oerrors.CodeTooManyErrors))
		assert.Equal(t, int64(6), errs.Stats().ErrorCount)
	})

	t.Run("within limit", func(t *testing.T) {
		scan.MaxErrors = 9
		rep, err := AnalyzeSources(context.Background(), textSources(bad, bad, bad), DefaultPolicy(),
			Options{Scan: scan, Parallelism: 3})

		require.NoError(t, err)
		assert.Equal(t, int64(9), rep.Parse.Skipped)
	})
}

func TestReportUnchangedByLaterInput(t *testing.T) {
	a, err := New(DefaultPolicy())
	require.NoError(t, err)

	require.NoError(t, a.Consume(parser.NewScanner(strings.NewReader("bad\n"))))
	first := a.Report()
	require.NoError(t, a.Consume(parser.NewScanner(strings.NewReader("bad\nbad\n"))))

	assert.Equal(t, int64(1), first.Parse.Skipped)
	assert.Equal(t, int64(1), first.Parse.ByReason["malformed"])
	assert.Equal(t, int64(3), a.Report().Parse.ByReason["malformed"])

	first.Meta.Policy.SizeBounds[0] = 1
	first.Meta.Policy.LatencyBounds[0] = time.Nanosecond
	again := a.Report()
	assert.Equal(t, DefaultPolicy().SizeBounds, again.Meta.Policy.SizeBounds)
	assert.Equal(t, DefaultPolicy().LatencyBounds, again.Meta.Policy.LatencyBounds)
}

func TestAnalyzerMergeMatchesSinglePass(t *testing.T) {
	p := DefaultPolicy()
	all, err := New(p)
	require.NoError(t, err)
	left, err := newAnalyzer(p, 0)
	require.NoError(t, err)
	right, err := newAnalyzer(p, 1)
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		r := read(i, 0, 1000+i)
		r.Duration = float64(i) / 1000
		require.NoError(t, all.Add(r))
		if i%2 == 0 {
			require.NoError(t, left.Add(r))
		} else {
			require.NoError(t, right.Add(r))
		}
	}
	require.NoError(t, left.Merge(right))

	want, got := all.Report(), left.Report()
	assert.Equal(t, want.Reads.Size, got.Reads.Size)
	assert.Equal(t, want.Reads.Bytes, got.Reads.Bytes)
	assert.Equal(t, want.Reads.Buckets, got.Reads.Buckets)
	assert.InDelta(t, want.Latency.Duration.Median, got.Latency.Duration.Median, 1e-12)
}

func BenchmarkAnalyze(b *testing.B) {
	records := generators.NewOplogGenerator(1).Records(100000)
	p := DefaultPolicy()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Analyze(records, p); err != nil {
			b.Fatal(err)
		}
	}
}
