package util

import (
	"math"
	"math/bits"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, min and max of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// DistributionStats describes how evenly records are spread over shards
type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates a shard size distribution. Quality is 1 for a
// perfectly even spread and approaches 0 for a skewed one.
func NewDistributionStats(shardSizes []float64) DistributionStats {
	stats := NewStats(shardSizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

const histogramBuckets = 32

// SizeHistogram counts value sizes in power of two buckets. Bucket i holds
// sizes in (2^(i-1), 2^i]; the last bucket holds everything larger than 2^30.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	buckets [histogramBuckets]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

func bucketOf(size int) int {
	if size <= 1 {
		return 0
	}
	b := bits.Len(uint(size - 1))
	if b >= histogramBuckets {
		return histogramBuckets - 1
	}
	return b
}

// AddSample records one value of the given size
func (h *SizeHistogram) AddSample(size int) {
	h.buckets[bucketOf(size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// RemoveSample forgets one value of the given size
func (h *SizeHistogram) RemoveSample(size int) {
	h.buckets[bucketOf(size)].Add(-1)
	h.count.Add(-1)
	h.sum.Add(-int64(size))
}

func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

func (h *SizeHistogram) AverageSize() int {
	c := h.count.Load()
	if c <= 0 {
		return 0
	}
	return int(h.sum.Load() / c)
}

// PercentileEstimate returns the upper bound of the bucket holding the given percentile (0-100)
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	c := h.count.Load()
	if c <= 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(c) * float64(percentile) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			return 1 << i
		}
	}
	return math.MaxInt32
}
