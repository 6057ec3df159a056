// Package chunking shrinks chunk sizes for jobs whose per-item time varies
// widely, so that one slow chunk does not leave the other workers idle.
package chunking

import "math"

// DefaultThreshold is the coefficient of variation above which chunks are
// reduced.
const DefaultThreshold = 0.5

const (
	minReduction   = 0.25
	reductionRange = 0.5
)

// Reduction returns the fraction by which a chunk is shrunk for the given
// coefficient of variation: 0 at or below threshold, then from 25% rising
// linearly to 75% once cv reaches twice the threshold.
func Reduction(cv, threshold float64) float64 {
	if cv <= threshold {
		return 0
	}
	if threshold <= 0 {
		return minReduction + reductionRange
	}
	excess := min(1, (cv-threshold)/threshold)
	return minReduction + reductionRange*excess
}

// Adjust returns the chunk size to use for a job with the given
// coefficient of variation. The result is at least 1 and strictly smaller
// than chunkSize whenever a reduction applies and chunkSize is at least 2.
func Adjust(chunkSize int, cv, threshold float64) int {
	r := Reduction(cv, threshold)
	if r == 0 {
		return chunkSize
	}
	return max(1, int(math.Floor(float64(chunkSize)*(1-r))))
}
