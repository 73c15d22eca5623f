package analysis

import (
	"fmt"
	"time"

	oerrors "github.com/logflow/oplog/pkg/errors"
)

// Policy holds every tunable the analysis depends on. The core never reads
// configuration files or the environment; callers pass a Policy explicitly.
type Policy struct {
	// SequentialThreshold is the sequential share, in percent, at or above
	// which the overall pattern is "sequential".
	SequentialThreshold float64 `json:"sequential_threshold" yaml:"sequential_threshold"`
	// RandomThreshold is the sequential share, in percent, at or below which
	// the overall pattern is "random".
	RandomThreshold float64 `json:"random_threshold" yaml:"random_threshold"`

	// HighActivityOps flags streams and inodes with more operations than
	// this.
	HighActivityOps uint64 `json:"high_activity_ops" yaml:"high_activity_ops"`
	// TopActivity caps the high-activity lists in the report (0 = no cap).
	TopActivity int `json:"top_activity" yaml:"top_activity"`

	// SizeBounds are the ascending inclusive upper bounds, in bytes, of the
	// read and write size buckets. Larger values fall in an overflow bucket.
	SizeBounds []uint64 `json:"size_bounds" yaml:"size_bounds"`
	// LatencyBounds are the ascending inclusive upper bounds of the latency
	// buckets.
	LatencyBounds []time.Duration `json:"latency_bounds" yaml:"latency_bounds"`

	// DistributionLimit is the number of distinct values a distribution
	// keeps exactly before it switches to approximate buckets.
	DistributionLimit int `json:"distribution_limit" yaml:"distribution_limit"`
}

// Pattern verdict names.
const (
	PatternSequential       = "sequential"
	PatternRandom           = "random"
	PatternMixed            = "mixed"
	PatternInsufficientData = "insufficient_data"
)

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		SequentialThreshold: 80,
		RandomThreshold:     20,
		HighActivityOps:     100,
		TopActivity:         20,
		SizeBounds: []uint64{
			4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10, 128 << 10, 1 << 20,
		},
		LatencyBounds: []time.Duration{
			100 * time.Microsecond,
			time.Millisecond,
			10 * time.Millisecond,
			100 * time.Millisecond,
			time.Second,
		},
		DistributionLimit: 1 << 16,
	}
}

// Validate reports the first unusable setting.
func (p Policy) Validate() error {
	if p.RandomThreshold < 0 || p.SequentialThreshold > 100 || p.RandomThreshold >= p.SequentialThreshold {
		return oerrors.InvalidConfig("thresholds", fmt.Errorf(
			"need 0 <= random (%v) < sequential (%v) <= 100", p.RandomThreshold, p.SequentialThreshold))
	}
	if len(p.SizeBounds) == 0 {
		return oerrors.InvalidConfig("size_bounds", fmt.Errorf("no bounds"))
	}
	for i := 1; i < len(p.SizeBounds); i++ {
		if p.SizeBounds[i] <= p.SizeBounds[i-1] {
			return oerrors.InvalidConfig("size_bounds", fmt.Errorf("bounds not ascending at %d", p.SizeBounds[i]))
		}
	}
	if len(p.LatencyBounds) == 0 {
		return oerrors.InvalidConfig("latency_bounds", fmt.Errorf("no bounds"))
	}
	for i, b := range p.LatencyBounds {
		if b <= 0 || (i > 0 && b <= p.LatencyBounds[i-1]) {
			return oerrors.InvalidConfig("latency_bounds", fmt.Errorf("bounds not ascending at %s", b))
		}
	}
	if p.DistributionLimit <= 0 {
		return oerrors.InvalidConfig("distribution_limit", fmt.Errorf("must be positive, got %d", p.DistributionLimit))
	}
	if p.TopActivity < 0 {
		return oerrors.InvalidConfig("top_activity", fmt.Errorf("must not be negative"))
	}
	return nil
}

// Verdict maps a sequential share in percent to a pattern name.
func (p Policy) Verdict(sequentialPct float64) string {
	switch {
	case sequentialPct >= p.SequentialThreshold:
		return PatternSequential
	case sequentialPct <= p.RandomThreshold:
		return PatternRandom
	default:
		return PatternMixed
	}
}

// clone returns p with its own bound slices.
func (p Policy) clone() Policy {
	p.SizeBounds = append([]uint64(nil), p.SizeBounds...)
	p.LatencyBounds = append([]time.Duration(nil), p.LatencyBounds...)
	return p
}

func (p Policy) latencyBoundsNanos() []uint64 {
	out := make([]uint64, len(p.LatencyBounds))
	for i, b := range p.LatencyBounds {
		out[i] = uint64(b)
	}
	return out
}
