package analysis

import (
	"time"

	"github.com/logflow/oplog/internal/model"
	oerrors "github.com/logflow/oplog/pkg/errors"
)

// streamID scopes a stream key to the log it came from. Handles and inodes
// of two logs are never the same stream.
type streamID struct {
	Source int
	Key    model.StreamKey
}

type opTally struct {
	Count  uint64
	Failed uint64
}

// ioTally accumulates the successful reads or writes of one direction.
type ioTally struct {
	Count    uint64
	Bytes    uint64
	Duration float64
	Sizes    *Distribution
	Buckets  *Histogram
	Latency  *Distribution
}

func newIOTally(p Policy) *ioTally {
	return &ioTally{
		Sizes:   NewDistribution(p.DistributionLimit),
		Buckets: NewHistogram(p.SizeBounds),
		Latency: NewDistribution(p.DistributionLimit),
	}
}

func (t *ioTally) merge(o *ioTally) error {
	t.Count += o.Count
	t.Bytes += o.Bytes
	t.Duration += o.Duration
	t.Sizes.Merge(o.Sizes)
	t.Latency.Merge(o.Latency)
	return t.Buckets.Merge(o.Buckets)
}

// Aggregator accumulates the counters and distributions of one or more logs
// in a single pass. It consumes each record together with the classifier's
// transition for it and never looks at classifier state.
//
// Activity counters (operation counts, per-inode and per-stream counts,
// timestamps) include failed operations. Sizes, durations, throughput and
// pattern counts cover successful operations only.
type Aggregator struct {
	policy Policy
	source int

	total   uint64
	ops     [model.NumOperations]opTally
	unknown map[string]uint64
	errnos  map[string]uint64

	inodes  map[uint64]uint64
	streams map[streamID]uint64

	reads, writes *ioTally
	duration      float64
	latency       *Distribution
	latencyBins   *Histogram

	first, sequential, forward, backward uint64
	seekSum, seekMax                     uint64

	timestamped   uint64
	earliest      time.Time
	latest        time.Time
	prev          time.Time
	gaps          *Distribution
	outOfOrder    uint64
	open          map[uint64]struct{}
	peakOpen      int
	mergedOpenEnd int
}

// NewAggregator creates an Aggregator for the log with index source.
func NewAggregator(p Policy, source int) *Aggregator {
	return &Aggregator{
		policy:      p,
		source:      source,
		unknown:     make(map[string]uint64),
		errnos:      make(map[string]uint64),
		inodes:      make(map[uint64]uint64),
		streams:     make(map[streamID]uint64),
		reads:       newIOTally(p),
		writes:      newIOTally(p),
		latency:     NewDistribution(p.DistributionLimit),
		latencyBins: NewHistogram(p.latencyBoundsNanos()),
		gaps:        NewDistribution(p.DistributionLimit),
		open:        make(map[uint64]struct{}),
	}
}

// Add accumulates one record and its transition. A record that breaks its
// operation's schema stops the analysis with an invariant violation.
func (a *Aggregator) Add(r *model.Record, t Transition) error {
	if err := r.Validate(); err != nil {
		return oerrors.InvariantViolation(err, r.Line)
	}

	a.total++
	tally := &a.ops[r.Op]
	tally.Count++
	if r.Op == model.OpUnknown {
		a.unknown[r.Keyword]++
	}
	if !r.OK {
		tally.Failed++
		a.errnos[r.Errno]++
	}

	if ino, ok := subjectInode(r); ok {
		a.inodes[ino]++
	}
	if key, ok := activityKey(r); ok {
		a.streams[streamID{Source: a.source, Key: key}]++
	}
	a.trackHandles(r)
	a.trackTime(r)

	if !r.OK {
		return nil
	}

	ns := uint64(r.DurationValue())
	a.duration += r.Duration
	a.latency.Add(ns)
	a.latencyBins.Add(ns)

	var io *ioTally
	switch r.Op {
	case model.OpRead:
		io = a.reads
	case model.OpWrite:
		io = a.writes
	default:
		return nil
	}
	io.Count++
	io.Bytes += r.TransferBytes()
	io.Duration += r.Duration
	io.Sizes.Add(r.Args.Size)
	io.Buckets.Add(r.Args.Size)
	io.Latency.Add(ns)

	switch t.Verdict {
	case VerdictFirst:
		a.first++
	case VerdictSequential:
		a.sequential++
	case VerdictForwardSeek, VerdictBackwardSeek:
		if t.Verdict == VerdictForwardSeek {
			a.forward++
		} else {
			a.backward++
		}
		a.seekSum += t.Distance
		if t.Distance > a.seekMax {
			a.seekMax = t.Distance
		}
	}
	return nil
}

// subjectInode is the inode an operation acts on: its inode, or the parent
// directory for name operations.
func subjectInode(r *model.Record) (uint64, bool) {
	if r.Args.Has(model.FieldInode) {
		return r.Args.Inode, true
	}
	if r.Args.Has(model.FieldParentInode) {
		return r.Args.ParentInode, true
	}
	return 0, false
}

// activityKey is the stream an operation counts toward: any operation on a
// file handle, plus reads and writes that carry only an inode.
func activityKey(r *model.Record) (model.StreamKey, bool) {
	if r.Args.Has(model.FieldHandle) || r.Op.IsIO() {
		return r.StreamKey()
	}
	return model.StreamKey{}, false
}

func (a *Aggregator) trackHandles(r *model.Record) {
	if !r.OK || !r.Args.Has(model.FieldHandle) {
		return
	}
	switch r.Op {
	case model.OpOpen, model.OpCreate:
		a.open[r.Args.Handle] = struct{}{}
		if len(a.open) > a.peakOpen {
			a.peakOpen = len(a.open)
		}
	case model.OpRelease:
		delete(a.open, r.Args.Handle)
	}
}

// trackTime records span and log-order gaps. A timestamp earlier than its
// predecessor is counted as out of order and yields no gap.
func (a *Aggregator) trackTime(r *model.Record) {
	if !r.HasTimestamp() {
		return
	}
	ts := r.Timestamp
	if a.timestamped == 0 || ts.Before(a.earliest) {
		a.earliest = ts
	}
	if a.timestamped == 0 || ts.After(a.latest) {
		a.latest = ts
	}
	if a.timestamped > 0 {
		if ts.Before(a.prev) {
			a.outOfOrder++
		} else {
			a.gaps.Add(uint64(ts.Sub(a.prev)))
		}
	}
	a.prev = ts
	a.timestamped++
}

// Merge folds o into a. Both must have been built with the same policy and
// from different logs. Gaps across the boundary between logs are not
// computed.
func (a *Aggregator) Merge(o *Aggregator) error {
	a.total += o.total
	for i := range a.ops {
		a.ops[i].Count += o.ops[i].Count
		a.ops[i].Failed += o.ops[i].Failed
	}
	for k, n := range o.unknown {
		a.unknown[k] += n
	}
	for k, n := range o.errnos {
		a.errnos[k] += n
	}
	for k, n := range o.inodes {
		a.inodes[k] += n
	}
	for k, n := range o.streams {
		a.streams[k] += n
	}

	if err := a.reads.merge(o.reads); err != nil {
		return err
	}
	if err := a.writes.merge(o.writes); err != nil {
		return err
	}
	a.duration += o.duration
	a.latency.Merge(o.latency)
	if err := a.latencyBins.Merge(o.latencyBins); err != nil {
		return err
	}

	a.first += o.first
	a.sequential += o.sequential
	a.forward += o.forward
	a.backward += o.backward
	a.seekSum += o.seekSum
	if o.seekMax > a.seekMax {
		a.seekMax = o.seekMax
	}

	if o.timestamped > 0 {
		if a.timestamped == 0 || o.earliest.Before(a.earliest) {
			a.earliest = o.earliest
		}
		if a.timestamped == 0 || o.latest.After(a.latest) {
			a.latest = o.latest
		}
		a.timestamped += o.timestamped
	}
	a.gaps.Merge(o.gaps)
	a.outOfOrder += o.outOfOrder

	// Handles of different logs belong to different clients.
	if o.peakOpen > a.peakOpen {
		a.peakOpen = o.peakOpen
	}
	a.mergedOpenEnd += o.openAtEnd()
	return nil
}

func (a *Aggregator) openAtEnd() int {
	return len(a.open) + a.mergedOpenEnd
}
