package sampler

import "math"

// RunningStats accumulates mean and variance in a single pass using
// Welford's method.
type RunningStats struct {
	n    int
	mean float64
	m2   float64
}

// Add records one observation.
func (s *RunningStats) Add(x float64) {
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

// Count returns the number of observations.
func (s *RunningStats) Count() int { return s.n }

// Mean returns the arithmetic mean, 0 when empty.
func (s *RunningStats) Mean() float64 { return s.mean }

// Variance returns the population variance, 0 for fewer than two values.
func (s *RunningStats) Variance() float64 {
	if s.n < 2 {
		return 0
	}
	return max(s.m2/float64(s.n), 0)
}

// StdDev returns the population standard deviation.
func (s *RunningStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// CV returns the coefficient of variation. It is 0 when the mean is 0.
func (s *RunningStats) CV() float64 {
	if s.mean == 0 {
		return 0
	}
	return s.StdDev() / math.Abs(s.mean)
}
