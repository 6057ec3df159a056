package profiler

import (
	"fmt"
	"math"
	"slices"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Platform fallbacks, in seconds. They err on the expensive side so that a
// failed measurement biases decisions toward serial execution.
const (
	threadSpawnFallback   = 50e-6
	chunkOverheadFallback = 0.5e-3
)

var processSpawnFallbacks = map[string]float64{
	"linux":   0.020,
	"darwin":  0.040,
	"windows": 0.080,
}

func processSpawnFallback(goos string) float64 {
	if v, ok := processSpawnFallbacks[goos]; ok {
		return v
	}
	return 0.050
}

// prober returns n timings in seconds. Implementations may warm up before
// the first returned sample.
type prober func(n int) ([]float64, error)

type measurement struct {
	value    float64
	spread   float64
	fallback bool
	warnings []string
}

// measure runs probe up to opts.MaxAttempts times. Each attempt takes one
// extra cold sample that is discarded, then reports the median. Attempts
// whose relative median absolute deviation exceeds opts.MaxRelativeSpread
// are retried; when none qualifies the platform fallback is used.
func measure(name string, probe prober, fallback float64, opts Options) measurement {
	var lastSpread float64
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		samples, err := probe(opts.Samples + 1)
		if err != nil {
			lastErr = err
			logger.Debug("probe failed", "probe", name, "attempt", attempt, "error", err)
			continue
		}
		if len(samples) > 1 {
			samples = samples[1:]
		}

		med, spread := robustStats(samples)
		if spread <= opts.MaxRelativeSpread {
			logger.Debug("probe measured", "probe", name, "attempt", attempt,
				"median", types.FormatSeconds(med), "spread", spread)
			return measurement{value: med, spread: spread}
		}
		lastSpread = spread
		logger.Debug("probe too noisy", "probe", name, "attempt", attempt, "spread", spread)
	}

	m := measurement{value: fallback, spread: lastSpread, fallback: true}
	if lastErr != nil && lastSpread == 0 {
		m.warnings = append(m.warnings, fmt.Sprintf("%s measurement failed (%v); using platform default %s",
			name, lastErr, types.FormatSeconds(fallback)))
	} else {
		m.warnings = append(m.warnings, fmt.Sprintf("%s measurement unstable (spread %.2f); using platform default %s",
			name, lastSpread, types.FormatSeconds(fallback)))
	}
	return m
}

// robustStats returns the median and the median absolute deviation
// relative to the median. An all-zero sample has zero spread.
func robustStats(samples []float64) (median, spread float64) {
	if len(samples) == 0 {
		return 0, math.Inf(1)
	}
	median = medianOf(samples)
	if median == 0 {
		return 0, 0
	}

	dev := make([]float64, len(samples))
	for i, s := range samples {
		dev[i] = math.Abs(s - median)
	}
	return median, medianOf(dev) / median
}

func medianOf(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
