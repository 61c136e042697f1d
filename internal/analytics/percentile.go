package analytics

import "math"

// Percentile picks the nearest-rank percentile from an ascending-sorted
// sample: index = ceil(p/100*n)-1, clamped to the sample bounds. Empty
// samples yield 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	index := int(math.Ceil(p/100*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

// RoundRate rounds a percentage to 2 decimals.
func RoundRate(value float64) float64 {
	return math.Round(value*100) / 100
}
