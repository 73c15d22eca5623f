package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/logflow/oplog/internal/model"
	"github.com/logflow/oplog/pkg/parser"
)

// Report is the finished analysis of one or more logs. Rates and
// percentages whose denominator is zero are nil, never NaN or Inf.
// Throughput divides bytes by the summed durations of operations, which
// measures cumulative I/O cost and exceeds bytes per wall-clock second when
// operations overlap.
type Report struct {
	Meta        Meta              `json:"meta" yaml:"meta"`
	Summary     Summary           `json:"summary" yaml:"summary"`
	Parse       ParseSummary      `json:"parse" yaml:"parse"`
	Operations  []OperationCount  `json:"operations" yaml:"operations"`
	Unknown     map[string]uint64 `json:"unknown_keywords,omitempty" yaml:"unknown_keywords,omitempty"`
	Errors      map[string]uint64 `json:"errors,omitempty" yaml:"errors,omitempty"`
	Pattern     PatternReport     `json:"pattern" yaml:"pattern"`
	Reads       IOReport          `json:"reads" yaml:"reads"`
	Writes      IOReport          `json:"writes" yaml:"writes"`
	// ReadShare and WriteShare split read and write operations by count, in
	// percent of both together. ReadWrite compares bytes.
	ReadShare   *float64          `json:"read_percent" yaml:"read_percent"`
	WriteShare  *float64          `json:"write_percent" yaml:"write_percent"`
	ReadWrite   *float64          `json:"read_write_byte_ratio" yaml:"read_write_byte_ratio"`
	Latency     LatencyReport     `json:"latency" yaml:"latency"`
	Throughput  ThroughputReport  `json:"throughput" yaml:"throughput"`
	Concurrency ConcurrencyReport `json:"concurrency" yaml:"concurrency"`
	Gaps        *GapReport        `json:"gaps" yaml:"gaps"`
}

// Meta describes the run. Assemble leaves it empty; the caller fills it.
type Meta struct {
	RunID       string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Sources     []string  `json:"sources,omitempty" yaml:"sources,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	Policy      Policy    `json:"policy" yaml:"policy"`
}

type Summary struct {
	TotalOps      uint64     `json:"total_ops" yaml:"total_ops"`
	SuccessfulOps uint64     `json:"successful_ops" yaml:"successful_ops"`
	FailedOps     uint64     `json:"failed_ops" yaml:"failed_ops"`
	UniqueInodes  uint64     `json:"unique_inodes" yaml:"unique_inodes"`
	FirstSeen     *time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen      *time.Time `json:"last_seen" yaml:"last_seen"`
	SpanSeconds   *float64   `json:"span_seconds" yaml:"span_seconds"`
	OpsPerSecond  *float64   `json:"ops_per_second" yaml:"ops_per_second"`
}

// ParseSummary reports log quality.
type ParseSummary struct {
	Lines    int64            `json:"lines" yaml:"lines"`
	Records  int64            `json:"records" yaml:"records"`
	Blank    int64            `json:"blank" yaml:"blank"`
	Skipped  int64            `json:"skipped" yaml:"skipped"`
	ByReason map[string]int64 `json:"skipped_by_reason,omitempty" yaml:"skipped_by_reason,omitempty"`
}

type OperationCount struct {
	Operation string   `json:"operation" yaml:"operation"`
	Count     uint64   `json:"count" yaml:"count"`
	Failed    uint64   `json:"failed" yaml:"failed"`
	Percent   *float64 `json:"percent" yaml:"percent"`
}

type PatternReport struct {
	Verdict           string    `json:"verdict" yaml:"verdict"`
	FirstAccesses     uint64    `json:"first_accesses" yaml:"first_accesses"`
	Transitions       uint64    `json:"transitions" yaml:"transitions"`
	Sequential        uint64    `json:"sequential" yaml:"sequential"`
	ForwardSeeks      uint64    `json:"forward_seeks" yaml:"forward_seeks"`
	BackwardSeeks     uint64    `json:"backward_seeks" yaml:"backward_seeks"`
	SequentialPercent *float64  `json:"sequential_percent" yaml:"sequential_percent"`
	RandomPercent     *float64  `json:"random_percent" yaml:"random_percent"`
	Seeks             SeekStats `json:"seeks" yaml:"seeks"`
}

type SeekStats struct {
	Count         uint64   `json:"count" yaml:"count"`
	TotalDistance uint64   `json:"total_distance" yaml:"total_distance"`
	AvgDistance   *float64 `json:"avg_distance" yaml:"avg_distance"`
	MaxDistance   uint64   `json:"max_distance" yaml:"max_distance"`
}

// IOReport covers the successful reads or writes.
type IOReport struct {
	Count uint64 `json:"count" yaml:"count"`
	// Bytes is the bytes transferred; reads count the returned byte count
	// when the log reports it.
	Bytes    uint64         `json:"bytes" yaml:"bytes"`
	Size     *SizeStats     `json:"size" yaml:"size"`
	Buckets  []Bucket       `json:"size_buckets" yaml:"size_buckets"`
	Duration *DurationStats `json:"duration" yaml:"duration"`
}

// SizeStats summarizes requested sizes in bytes.
type SizeStats struct {
	Min         uint64  `json:"min" yaml:"min"`
	Max         uint64  `json:"max" yaml:"max"`
	Avg         float64 `json:"avg" yaml:"avg"`
	Median      float64 `json:"median" yaml:"median"`
	Approximate bool    `json:"approximate,omitempty" yaml:"approximate,omitempty"`
}

// DurationStats summarizes durations in seconds.
type DurationStats struct {
	Total       float64 `json:"total" yaml:"total"`
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	Avg         float64 `json:"avg" yaml:"avg"`
	Median      float64 `json:"median" yaml:"median"`
	P95         float64 `json:"p95" yaml:"p95"`
	P99         float64 `json:"p99" yaml:"p99"`
	Approximate bool    `json:"approximate,omitempty" yaml:"approximate,omitempty"`
}

// Bucket is one histogram bucket. UpperBound is nil for the overflow bucket.
type Bucket struct {
	Label      string   `json:"label" yaml:"label"`
	UpperBound *uint64  `json:"upper_bound" yaml:"upper_bound"`
	Count      uint64   `json:"count" yaml:"count"`
	Percent    *float64 `json:"percent" yaml:"percent"`
}

// LatencyReport covers every successful operation.
type LatencyReport struct {
	Duration *DurationStats `json:"duration" yaml:"duration"`
	Buckets  []Bucket       `json:"buckets" yaml:"buckets"`
}

// ThroughputReport is in bytes per second of summed operation duration.
type ThroughputReport struct {
	TotalDuration float64  `json:"total_duration" yaml:"total_duration"`
	Overall       *float64 `json:"overall" yaml:"overall"`
	Read          *float64 `json:"read" yaml:"read"`
	Write         *float64 `json:"write" yaml:"write"`
}

type ConcurrencyReport struct {
	Streams               uint64     `json:"streams" yaml:"streams"`
	AvgOpsPerStream       *float64   `json:"avg_ops_per_stream" yaml:"avg_ops_per_stream"`
	HighActivityThreshold uint64     `json:"high_activity_threshold" yaml:"high_activity_threshold"`
	HighActivityStreams   []Activity `json:"high_activity_streams" yaml:"high_activity_streams"`
	HighActivityInodes    []Activity `json:"high_activity_inodes" yaml:"high_activity_inodes"`
	PeakOpenHandles       int        `json:"peak_open_handles" yaml:"peak_open_handles"`
	OpenAtEnd             int        `json:"open_at_end" yaml:"open_at_end"`
}

// Activity is a stream or inode with its operation count. Source indexes
// Meta.Sources for streams.
type Activity struct {
	Key    string `json:"key" yaml:"key"`
	Source int    `json:"source" yaml:"source"`
	Ops    uint64 `json:"ops" yaml:"ops"`
}

// GapReport covers the time between consecutive timestamped records, in
// seconds.
type GapReport struct {
	Count      uint64   `json:"count" yaml:"count"`
	Min        float64  `json:"min" yaml:"min"`
	Max        float64  `json:"max" yaml:"max"`
	Avg        *float64 `json:"avg" yaml:"avg"`
	OutOfOrder uint64   `json:"out_of_order" yaml:"out_of_order"`
}

// Assemble folds aggregator state into a Report. It has no side effects and
// returns the same report for the same inputs. The report shares no memory
// with a or scan, so later updates to either leave it unchanged.
func Assemble(a *Aggregator, scan parser.Stats) *Report {
	p := a.policy.clone()
	r := &Report{
		Meta: Meta{Policy: p},
		Parse: ParseSummary{
			Lines:    scan.Lines,
			Records:  scan.Records,
			Blank:    scan.Blank,
			Skipped:  scan.Skipped,
			ByReason: copyReasons(scan.ByReason),
		},
		Unknown: copyCounts(a.unknown),
		Errors:  copyCounts(a.errnos),
	}

	var failed uint64
	for op := model.Operation(0); op < model.NumOperations; op++ {
		failed += a.ops[op].Failed
	}
	r.Summary = Summary{
		TotalOps:      a.total,
		SuccessfulOps: a.total - failed,
		FailedOps:     failed,
		UniqueInodes:  uint64(len(a.inodes)),
	}
	if a.timestamped > 0 {
		first, last := a.earliest, a.latest
		span := last.Sub(first).Seconds()
		r.Summary.FirstSeen = &first
		r.Summary.LastSeen = &last
		r.Summary.SpanSeconds = &span
		r.Summary.OpsPerSecond = ratio(float64(a.total), span)
	}

	// Operations in vocabulary order, unknown last.
	for op := model.OpOpen; op <= model.NumOperations; op++ {
		o := op
		if op == model.NumOperations {
			o = model.OpUnknown
		}
		t := a.ops[o]
		if t.Count == 0 {
			continue
		}
		r.Operations = append(r.Operations, OperationCount{
			Operation: o.String(),
			Count:     t.Count,
			Failed:    t.Failed,
			Percent:   percent(t.Count, a.total),
		})
	}

	r.Pattern = assemblePattern(a)
	r.Reads = assembleIO(a.reads)
	r.Writes = assembleIO(a.writes)
	reads, writes := a.ops[model.OpRead].Count, a.ops[model.OpWrite].Count
	r.ReadShare = percent(reads, reads+writes)
	r.WriteShare = percent(writes, reads+writes)
	r.ReadWrite = ratio(float64(a.reads.Bytes), float64(a.writes.Bytes))

	r.Latency = LatencyReport{
		Duration: durationStats(a.latency, a.duration),
		Buckets:  latencyBuckets(a.latencyBins, p.LatencyBounds),
	}
	r.Throughput = ThroughputReport{
		TotalDuration: a.duration,
		Overall:       ratio(float64(a.reads.Bytes+a.writes.Bytes), a.duration),
		Read:          ratio(float64(a.reads.Bytes), a.reads.Duration),
		Write:         ratio(float64(a.writes.Bytes), a.writes.Duration),
	}
	r.Concurrency = assembleConcurrency(a)

	if a.timestamped > 0 {
		g := &GapReport{Count: a.gaps.Count(), OutOfOrder: a.outOfOrder}
		if g.Count > 0 {
			g.Min = nanosToSeconds(float64(a.gaps.Min()))
			g.Max = nanosToSeconds(float64(a.gaps.Max()))
			avg := nanosToSeconds(a.gaps.Mean())
			g.Avg = &avg
		}
		r.Gaps = g
	}
	return r
}

func assemblePattern(a *Aggregator) PatternReport {
	seeks := a.forward + a.backward
	transitions := a.sequential + seeks
	pr := PatternReport{
		Verdict:           PatternInsufficientData,
		FirstAccesses:     a.first,
		Transitions:       transitions,
		Sequential:        a.sequential,
		ForwardSeeks:      a.forward,
		BackwardSeeks:     a.backward,
		SequentialPercent: percent(a.sequential, transitions),
		RandomPercent:     percent(seeks, transitions),
		Seeks: SeekStats{
			Count:         seeks,
			TotalDistance: a.seekSum,
			AvgDistance:   ratio(float64(a.seekSum), float64(seeks)),
			MaxDistance:   a.seekMax,
		},
	}
	if pr.SequentialPercent != nil {
		pr.Verdict = a.policy.Verdict(*pr.SequentialPercent)
	}
	return pr
}

func assembleIO(t *ioTally) IOReport {
	out := IOReport{
		Count:   t.Count,
		Bytes:   t.Bytes,
		Buckets: sizeBuckets(t.Buckets),
	}
	if t.Count > 0 {
		out.Size = &SizeStats{
			Min:         t.Sizes.Min(),
			Max:         t.Sizes.Max(),
			Avg:         t.Sizes.Mean(),
			Median:      t.Sizes.Median(),
			Approximate: t.Sizes.Approximate(),
		}
		out.Duration = durationStats(t.Latency, t.Duration)
	}
	return out
}

// durationStats converts a nanosecond distribution. total is the exact sum
// in seconds.
func durationStats(d *Distribution, total float64) *DurationStats {
	if d.Count() == 0 {
		return nil
	}
	return &DurationStats{
		Total:       total,
		Min:         nanosToSeconds(float64(d.Min())),
		Max:         nanosToSeconds(float64(d.Max())),
		Avg:         total / float64(d.Count()),
		Median:      nanosToSeconds(d.Median()),
		P95:         nanosToSeconds(d.Percentile(95)),
		P99:         nanosToSeconds(d.Percentile(99)),
		Approximate: d.Approximate(),
	}
}

func sizeBuckets(h *Histogram) []Bucket {
	total := h.Total()
	out := make([]Bucket, len(h.Counts))
	for i, c := range h.Counts {
		b := Bucket{Count: c, Percent: percent(c, total)}
		if i < len(h.Bounds) {
			bound := h.Bounds[i]
			b.UpperBound = &bound
			b.Label = "<= " + humanize.IBytes(bound)
		} else {
			b.Label = "> " + humanize.IBytes(h.Bounds[len(h.Bounds)-1])
		}
		out[i] = b
	}
	return out
}

func latencyBuckets(h *Histogram, bounds []time.Duration) []Bucket {
	total := h.Total()
	out := make([]Bucket, len(h.Counts))
	for i, c := range h.Counts {
		b := Bucket{Count: c, Percent: percent(c, total)}
		if i < len(bounds) {
			bound := h.Bounds[i]
			b.UpperBound = &bound
			b.Label = "<= " + bounds[i].String()
		} else {
			b.Label = "> " + bounds[len(bounds)-1].String()
		}
		out[i] = b
	}
	return out
}

func assembleConcurrency(a *Aggregator) ConcurrencyReport {
	var ops uint64
	for _, n := range a.streams {
		ops += n
	}
	c := ConcurrencyReport{
		Streams:               uint64(len(a.streams)),
		AvgOpsPerStream:       ratio(float64(ops), float64(len(a.streams))),
		HighActivityThreshold: a.policy.HighActivityOps,
		PeakOpenHandles:       a.peakOpen,
		OpenAtEnd:             a.openAtEnd(),
	}

	for id, n := range a.streams {
		if n > a.policy.HighActivityOps {
			c.HighActivityStreams = append(c.HighActivityStreams,
				Activity{Key: id.Key.String(), Source: id.Source, Ops: n})
		}
	}
	for ino, n := range a.inodes {
		if n > a.policy.HighActivityOps {
			c.HighActivityInodes = append(c.HighActivityInodes,
				Activity{Key: fmt.Sprintf("ino:%d", ino), Ops: n})
		}
	}
	c.HighActivityStreams = topActivity(c.HighActivityStreams, a.policy.TopActivity)
	c.HighActivityInodes = topActivity(c.HighActivityInodes, a.policy.TopActivity)
	return c
}

// topActivity orders by descending count, then source and key, and keeps
// the first limit entries.
func topActivity(list []Activity, limit int) []Activity {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Ops != list[j].Ops {
			return list[i].Ops > list[j].Ops
		}
		if list[i].Source != list[j].Source {
			return list[i].Source < list[j].Source
		}
		return list[i].Key < list[j].Key
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func percent(n, total uint64) *float64 {
	if total == 0 {
		return nil
	}
	v := float64(n) / float64(total) * 100
	return &v
}

func ratio(n, d float64) *float64 {
	if d == 0 {
		return nil
	}
	v := n / d
	return &v
}

func nanosToSeconds(ns float64) float64 {
	return ns / float64(time.Second)
}

func copyCounts(m map[string]uint64) map[string]uint64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyReasons(m map[string]int64) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
