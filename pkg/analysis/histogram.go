package analysis

import (
	"fmt"
	"sort"
)

// Histogram counts values into fixed buckets with ascending inclusive upper
// bounds. Counts has one more entry than Bounds; the last one is the
// overflow bucket for values above the last bound.
type Histogram struct {
	Bounds []uint64
	Counts []uint64
}

// NewHistogram creates an empty histogram. bounds must be ascending.
func NewHistogram(bounds []uint64) *Histogram {
	return &Histogram{
		Bounds: append([]uint64(nil), bounds...),
		Counts: make([]uint64, len(bounds)+1),
	}
}

// Add counts v in the first bucket whose bound is >= v.
func (h *Histogram) Add(v uint64) {
	i := sort.Search(len(h.Bounds), func(i int) bool { return v <= h.Bounds[i] })
	h.Counts[i]++
}

// Total returns the number of values counted.
func (h *Histogram) Total() uint64 {
	var n uint64
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// Merge adds o's counts. Both histograms must share the same bounds.
func (h *Histogram) Merge(o *Histogram) error {
	if len(o.Bounds) != len(h.Bounds) {
		return fmt.Errorf("histogram bounds differ: %d vs %d buckets", len(h.Bounds), len(o.Bounds))
	}
	for i, b := range h.Bounds {
		if o.Bounds[i] != b {
			return fmt.Errorf("histogram bounds differ at %d: %d vs %d", i, b, o.Bounds[i])
		}
	}
	for i, c := range o.Counts {
		h.Counts[i] += c
	}
	return nil
}
