package profiler

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{Samples: 5, MaxAttempts: 3, MaxRelativeSpread: 0.5}
}

func constantProbe(v float64) prober {
	return func(n int) ([]float64, error) {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
}

func TestMeasure_StableProbe(t *testing.T) {
	m := measure("stable", constantProbe(0.002), 1.0, testOptions())

	assert.Equal(t, 0.002, m.value)
	assert.False(t, m.fallback)
	assert.Empty(t, m.warnings)
}

func TestMeasure_DiscardsColdSample(t *testing.T) {
	probe := func(n int) ([]float64, error) {
		out := make([]float64, n)
		out[0] = 10 // cold start
		for i := 1; i < n; i++ {
			out[i] = 0.001
		}
		return out, nil
	}

	m := measure("cold", probe, 1.0, testOptions())

	assert.Equal(t, 0.001, m.value)
	assert.False(t, m.fallback)
}

func TestMeasure_NoisyFallsBack(t *testing.T) {
	calls := 0
	probe := func(n int) ([]float64, error) {
		calls++
		out := make([]float64, n)
		for i := range out {
			out[i] = 0.001 * float64(1+10*i*i)
		}
		return out, nil
	}

	m := measure("noisy", probe, 0.02, testOptions())

	assert.Equal(t, 3, calls, "every attempt should be used before falling back")
	assert.True(t, m.fallback)
	assert.Equal(t, 0.02, m.value)
	require.Len(t, m.warnings, 1)
	assert.Contains(t, m.warnings[0], "unstable")
}

func TestMeasure_ProbeErrorFallsBack(t *testing.T) {
	probe := func(int) ([]float64, error) { return nil, errors.New("exec: not found") }

	m := measure("broken", probe, 0.05, testOptions())

	assert.True(t, m.fallback)
	assert.Equal(t, 0.05, m.value)
	require.Len(t, m.warnings, 1)
	assert.Contains(t, m.warnings[0], "exec: not found")
}

func TestMeasure_RecoversOnRetry(t *testing.T) {
	attempt := 0
	probe := func(n int) ([]float64, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("transient")
		}
		return constantProbe(0.003)(n)
	}

	m := measure("retry", probe, 1.0, testOptions())

	assert.False(t, m.fallback)
	assert.Equal(t, 0.003, m.value)
}

func TestRobustStats(t *testing.T) {
	med, spread := robustStats([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 3.0, med)
	assert.InDelta(t, 1.0/3.0, spread, 1e-9)

	med, spread = robustStats([]float64{0, 0, 0})
	assert.Equal(t, 0.0, med)
	assert.Equal(t, 0.0, spread)

	_, spread = robustStats(nil)
	assert.True(t, math.IsInf(spread, 1))
}

func TestProcessSpawnFallback(t *testing.T) {
	assert.Equal(t, 0.020, processSpawnFallback("linux"))
	assert.Equal(t, 0.040, processSpawnFallback("darwin"))
	assert.Equal(t, 0.080, processSpawnFallback("windows"))
	assert.Equal(t, 0.050, processSpawnFallback("plan9"))
}

func TestThreadSpawnProbe(t *testing.T) {
	samples, err := threadSpawnProbe(4)
	require.NoError(t, err)
	assert.Len(t, samples, 4)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, 0.0)
	}
}

func TestChunkOverheadProbe(t *testing.T) {
	samples, err := chunkOverheadProbe(6)
	require.NoError(t, err)
	assert.Len(t, samples, 6)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, 0.0)
	}
}

func TestProcessSpawnProbe(t *testing.T) {
	if testing.Short() {
		t.Skip("starts child processes")
	}
	samples, err := processSpawnProbe(2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
	for _, s := range samples {
		assert.Greater(t, s, 0.0)
	}
}
