package analysis

import (
	"math"
	"math/bits"
	"sort"
)

// significantBits is the precision kept once a Distribution turns
// approximate. Values are replaced by the midpoint of their bucket, so the
// relative error of any reported quantile is at most 1/2^significantBits.
const significantBits = 8

// Distribution is a mergeable multiset of unsigned values that answers
// min, max, mean and quantile queries.
//
// Values are counted exactly until limit distinct values have been seen;
// after that every value is rounded to its 8 significant bits, bounding
// memory at a few thousand buckets per distribution while keeping quantiles
// within 0.4%. Count, Sum, Min and Max stay exact either way. Approximate
// reports which mode is in effect.
type Distribution struct {
	counts map[uint64]uint64
	limit  int
	approx bool

	n   uint64
	sum uint64
	min uint64
	max uint64
}

// NewDistribution creates an empty distribution keeping up to limit
// distinct values exactly.
func NewDistribution(limit int) *Distribution {
	return &Distribution{counts: make(map[uint64]uint64), limit: limit}
}

// Add records one value.
func (d *Distribution) Add(v uint64) {
	d.addN(v, 1)
}

func (d *Distribution) addN(v, n uint64) {
	if d.n == 0 || v < d.min {
		d.min = v
	}
	if d.n == 0 || v > d.max {
		d.max = v
	}
	d.n += n
	d.sum += v * n

	if d.approx {
		v = roundSignificant(v)
	}
	d.counts[v] += n
	if !d.approx && len(d.counts) > d.limit {
		d.collapse()
	}
}

// Merge adds every value of o to d. Merging is commutative and associative
// up to the approximation of whichever side has collapsed.
func (d *Distribution) Merge(o *Distribution) {
	if o == nil || o.n == 0 {
		return
	}
	if o.approx && !d.approx {
		d.collapse()
	}
	min, max := d.min, d.max
	empty := d.n == 0
	for v, n := range o.counts {
		if d.approx {
			v = roundSignificant(v)
		}
		d.counts[v] += n
	}
	d.n += o.n
	d.sum += o.sum
	if empty || o.min < min {
		min = o.min
	}
	if empty || o.max > max {
		max = o.max
	}
	d.min, d.max = min, max
	if !d.approx && len(d.counts) > d.limit {
		d.collapse()
	}
}

func (d *Distribution) collapse() {
	buckets := make(map[uint64]uint64, len(d.counts)/4)
	for v, n := range d.counts {
		buckets[roundSignificant(v)] += n
	}
	d.counts = buckets
	d.approx = true
}

// roundSignificant keeps the top significantBits bits of v and replaces the
// rest with the midpoint of the dropped range.
func roundSignificant(v uint64) uint64 {
	width := bits.Len64(v)
	if width <= significantBits {
		return v
	}
	shift := uint(width - significantBits)
	return (v>>shift)<<shift | 1<<(shift-1)
}

// Count returns the number of values added.
func (d *Distribution) Count() uint64 { return d.n }

// Sum returns the exact sum of all values.
func (d *Distribution) Sum() uint64 { return d.sum }

// Min returns the smallest value, or 0 when empty.
func (d *Distribution) Min() uint64 { return d.min }

// Max returns the largest value, or 0 when empty.
func (d *Distribution) Max() uint64 { return d.max }

// Approximate reports whether quantiles are bucket estimates.
func (d *Distribution) Approximate() bool { return d.approx }

// Mean returns the exact arithmetic mean, or NaN when empty.
func (d *Distribution) Mean() float64 {
	if d.n == 0 {
		return math.NaN()
	}
	return float64(d.sum) / float64(d.n)
}

// Median returns the middle value, or the mean of the two middle values for
// an even count. It returns NaN when empty.
func (d *Distribution) Median() float64 {
	if d.n == 0 {
		return math.NaN()
	}
	keys := d.sortedKeys()
	if d.n%2 == 1 {
		return float64(d.valueAt(keys, d.n/2))
	}
	lo := d.valueAt(keys, d.n/2-1)
	hi := d.valueAt(keys, d.n/2)
	return (float64(lo) + float64(hi)) / 2
}

// Percentile returns the nearest-rank p-th percentile, or NaN when empty.
func (d *Distribution) Percentile(p float64) float64 {
	if d.n == 0 {
		return math.NaN()
	}
	rank := uint64(math.Ceil(p / 100 * float64(d.n)))
	if rank < 1 {
		rank = 1
	}
	if rank > d.n {
		rank = d.n
	}
	return float64(d.valueAt(d.sortedKeys(), rank-1))
}

func (d *Distribution) sortedKeys() []uint64 {
	keys := make([]uint64, 0, len(d.counts))
	for v := range d.counts {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// valueAt returns the value at 0-based position i of the sorted multiset.
// Bucket representatives are clamped to the exact min and max.
func (d *Distribution) valueAt(keys []uint64, i uint64) uint64 {
	var seen uint64
	for _, v := range keys {
		seen += d.counts[v]
		if i < seen {
			if v < d.min {
				return d.min
			}
			if v > d.max {
				return d.max
			}
			return v
		}
	}
	return d.max
}
