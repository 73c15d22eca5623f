package analysis

import (
	"github.com/logflow/oplog/internal/model"
)

// Verdict is the classification of one read or write.
type Verdict uint8

const (
	// VerdictNone marks records the classifier does not track.
	VerdictNone Verdict = iota
	// VerdictFirst is the first access of a stream.
	VerdictFirst
	VerdictSequential
	VerdictForwardSeek
	VerdictBackwardSeek
)

func (v Verdict) String() string {
	switch v {
	case VerdictFirst:
		return "first"
	case VerdictSequential:
		return "sequential"
	case VerdictForwardSeek:
		return "forward_seek"
	case VerdictBackwardSeek:
		return "backward_seek"
	default:
		return "none"
	}
}

// IsSeek reports whether the verdict is a forward or backward seek.
func (v Verdict) IsSeek() bool {
	return v == VerdictForwardSeek || v == VerdictBackwardSeek
}

// Transition is the classifier's output for one record.
type Transition struct {
	Key     model.StreamKey
	Verdict Verdict
	// Distance is the absolute seek distance in bytes, 0 unless a seek.
	Distance uint64
}

type streamState struct {
	offset uint64
	size   uint64
}

// Classifier tracks offset continuity per stream. A stream is a file handle,
// or the inode when a record carries no handle, so interleaved handles on
// one file are judged independently.
//
// Only successful reads and writes are classified. State is local to one
// ordered log and is never merged.
type Classifier struct {
	streams map[model.StreamKey]streamState
}

// NewClassifier creates a Classifier with no streams.
func NewClassifier() *Classifier {
	return &Classifier{streams: make(map[model.StreamKey]streamState)}
}

// Classify classifies r against the previous access of its stream and
// records r as the stream's latest access.
func (c *Classifier) Classify(r *model.Record) Transition {
	if !r.Op.IsIO() || !r.OK {
		return Transition{}
	}
	key, ok := r.StreamKey()
	if !ok {
		return Transition{}
	}

	cur := streamState{offset: r.Args.Offset, size: r.Args.Size}
	prev, seen := c.streams[key]
	c.streams[key] = cur
	if !seen {
		return Transition{Key: key, Verdict: VerdictFirst}
	}

	expected := prev.offset + prev.size
	switch {
	case cur.offset == expected:
		return Transition{Key: key, Verdict: VerdictSequential}
	case cur.offset > expected:
		return Transition{Key: key, Verdict: VerdictForwardSeek, Distance: cur.offset - expected}
	default:
		return Transition{Key: key, Verdict: VerdictBackwardSeek, Distance: expected - cur.offset}
	}
}

// Streams returns the number of streams seen.
func (c *Classifier) Streams() int {
	return len(c.streams)
}
