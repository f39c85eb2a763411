// Package util provides helpers shared by the storage engines.
// This file implements a size histogram used to estimate the memory footprint
// of engines that can not ask a file system for their size. The histogram uses
// exponential buckets up to the maximum value length of a store entry.
package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Distribution statistics
// ----------------------------------------------------------------------------

// Stats summarises a list of values
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	Sum          float64 `json:"sum"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values.
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

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		Sum:          sum,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries covers 0 bytes up to four times the maximum value length
var sizeBoundaries = []int{16, 64, 256, 1024, 4096, 16384, 40960}

// SizeHistogram tracks the distribution of entry sizes in exponential buckets.
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets []int64 // one per boundary plus one for larger values
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]int64, len(sizeBoundaries)+1),
	}
}

// AddSample adds a size sample to the histogram
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the average sample size (0 without samples)
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate returns the bucket midpoint containing the percentile (0-100)
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// EstimateTotal extrapolates the total size of n entries from the samples.
// The estimate weights the median (60%) above the average (40%) because the
// average is skewed by few very large values.
func (h *SizeHistogram) EstimateTotal(n int64, overheadPerEntry int) int64 {
	if n == 0 || h.Count() == 0 {
		return 0
	}
	perEntry := (h.PercentileEstimate(50)*60+h.AverageSize()*40)/100 + overheadPerEntry
	return int64(perEntry) * n
}
