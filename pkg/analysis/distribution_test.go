package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionExact(t *testing.T) {
	d := NewDistribution(100)
	assert.True(t, math.IsNaN(d.Median()))
	assert.True(t, math.IsNaN(d.Mean()))

	for _, v := range []uint64{9, 1, 5, 3} {
		d.Add(v)
	}
	assert.Equal(t, uint64(4), d.Count())
	assert.Equal(t, uint64(18), d.Sum())
	assert.Equal(t, uint64(1), d.Min())
	assert.Equal(t, uint64(9), d.Max())
	assert.Equal(t, 4.5, d.Mean())
	assert.Equal(t, 4.0, d.Median())

	d.Add(7)
	assert.Equal(t, 5.0, d.Median())
	assert.Equal(t, 9.0, d.Percentile(100))
	assert.Equal(t, 1.0, d.Percentile(0))
	assert.Equal(t, 5.0, d.Percentile(50))
	assert.False(t, d.Approximate())
}

func TestDistributionCollapse(t *testing.T) {
	d := NewDistribution(16)
	for v := uint64(1000); v < 2000; v++ {
		d.Add(v)
	}
	require.True(t, d.Approximate())

	// Count, sum and extremes stay exact.
	assert.Equal(t, uint64(1000), d.Count())
	assert.Equal(t, uint64(1000), d.Min())
	assert.Equal(t, uint64(1999), d.Max())
	assert.Equal(t, 1499.5, d.Mean())

	median := d.Median()
	assert.InEpsilon(t, 1499.5, median, 1.0/128)
	assert.InEpsilon(t, 1950.0, d.Percentile(95), 1.0/128)
}

func TestDistributionMerge(t *testing.T) {
	a, b, all := NewDistribution(1000), NewDistribution(1000), NewDistribution(1000)
	for v := uint64(1); v <= 100; v++ {
		all.Add(v * 3)
		if v%3 == 0 {
			a.Add(v * 3)
		} else {
			b.Add(v * 3)
		}
	}
	a.Merge(b)

	assert.Equal(t, all.Count(), a.Count())
	assert.Equal(t, all.Sum(), a.Sum())
	assert.Equal(t, all.Min(), a.Min())
	assert.Equal(t, all.Max(), a.Max())
	assert.Equal(t, all.Median(), a.Median())

	empty := NewDistribution(1000)
	empty.Merge(a)
	assert.Equal(t, a.Min(), empty.Min())
	assert.Equal(t, a.Median(), empty.Median())
}

func TestDistributionMergeCollapsed(t *testing.T) {
	small, big := NewDistribution(8), NewDistribution(8)
	small.Add(10)
	for v := uint64(0); v < 100; v++ {
		big.Add(v * 1000)
	}
	require.True(t, big.Approximate())

	small.Merge(big)
	assert.True(t, small.Approximate())
	assert.Equal(t, uint64(101), small.Count())
	assert.Equal(t, uint64(0), small.Min())
	assert.Equal(t, uint64(99000), small.Max())
}

func TestRoundSignificant(t *testing.T) {
	assert.Equal(t, uint64(255), roundSignificant(255))
	for _, v := range []uint64{256, 1000, 4097, 1 << 40, math.MaxUint64} {
		got := roundSignificant(v)
		diff := math.Abs(float64(got) - float64(v))
		assert.LessOrEqual(t, diff/float64(v), 1.0/256, "v=%d", v)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram([]uint64{10, 100})
	for _, v := range []uint64{0, 10, 11, 100, 101, 5000} {
		h.Add(v)
	}
	assert.Equal(t, []uint64{2, 2, 2}, h.Counts)
	assert.Equal(t, uint64(6), h.Total())

	other := NewHistogram([]uint64{10, 100})
	other.Add(50)
	require.NoError(t, h.Merge(other))
	assert.Equal(t, []uint64{2, 3, 2}, h.Counts)

	assert.Error(t, h.Merge(NewHistogram([]uint64{10, 200})))
	assert.Error(t, h.Merge(NewHistogram([]uint64{10})))
}
