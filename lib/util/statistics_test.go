package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	stats := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if stats.Mean != 5 {
		t.Fatalf("expected mean 5, got %f", stats.Mean)
	}
	if stats.StdDeviation != 2 {
		t.Fatalf("expected std deviation 2, got %f", stats.StdDeviation)
	}
	if stats.Min != 2 || stats.Max != 9 {
		t.Fatalf("expected min 2 and max 9, got %f and %f", stats.Min, stats.Max)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Fatalf("expected zero stats for empty input, got %+v", empty)
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("expected quality 1 for even distribution, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= 0.5 {
		t.Errorf("expected low quality for skewed distribution, got %f", skewed.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	for i := 0; i < 90; i++ {
		h.AddSample(8)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1000)
	}

	if h.Count() != 100 {
		t.Fatalf("expected 100 samples, got %d", h.Count())
	}
	if got := h.PercentileEstimate(50); got != 8 {
		t.Errorf("expected median bucket 8, got %d", got)
	}
	if got := h.PercentileEstimate(99); got != 1024 {
		t.Errorf("expected p99 bucket 1024, got %d", got)
	}
	if got := h.AverageSize(); got != (90*8+10*1000)/100 {
		t.Errorf("unexpected average %d", got)
	}

	h.RemoveSample(1000)
	if h.Count() != 99 {
		t.Errorf("expected 99 samples after removal, got %d", h.Count())
	}
	if got := h.PercentileEstimate(101); got != 0 {
		t.Errorf("expected 0 for invalid percentile, got %d", got)
	}
	h.AddSample(math.MaxInt32)
	if got := h.PercentileEstimate(100); got < 1<<30 {
		t.Errorf("expected last bucket bound, got %d", got)
	}
}

func TestHashDistribution(t *testing.T) {
	seed := GenerateSeed()
	counts := make([]float64, 16)
	for i := 0; i < 16000; i++ {
		key := []byte{byte(i), byte(i >> 8), 'k'}
		if HashBytes(key, seed) != HashString(string(key), seed) {
			t.Fatalf("HashBytes and HashString disagree for %v", key)
		}
		counts[ShardIndex(HashBytes(key, seed), len(counts))]++
	}
	if q := NewDistributionStats(counts).DistributionQuality; q < 0.7 {
		t.Errorf("expected reasonably even shard distribution, got quality %f", q)
	}
}
