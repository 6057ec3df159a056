package optimizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

func fourCoreProfile() *types.SystemProfile {
	return &types.SystemProfile{
		PhysicalCores:       4,
		LogicalCores:        4,
		CoreSource:          "test",
		AvailableMemory:     16 * types.GiB,
		TotalMemory:         32 * types.GiB,
		MemorySource:        types.MemoryHost,
		ThreadSpawnCost:     50e-6,
		ProcessSpawnCost:    0.02,
		ChunkSubmitOverhead: 0.0005,
	}
}

func computeStats(mean float64, n int) *types.SampleStats {
	return &types.SampleStats{
		MeanItemTime:           mean,
		AvgInputSerializeTime:  1e-6,
		AvgOutputSerializeTime: 1e-6,
		AvgInputBytes:          64,
		AvgOutputBytes:         64,
		CPURatio:               0.98,
		Workload:               types.WorkloadCompute,
		TotalItems:             n,
		SampleCount:            5,
		JobSerializable:        true,
		ItemsSerializable:      true,
	}
}

func hasWarning(res *types.Result, substr string) bool {
	for _, w := range res.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestDecide_ExpensiveUniformJob(t *testing.T) {
	res := decide(DefaultConfig(), fourCoreProfile(), computeStats(0.05, 10000))

	assert.Equal(t, 4, res.Workers)
	assert.Equal(t, types.BackendProcessPool, res.Backend)
	assert.Equal(t, 4, res.ChunkSize, "0.2s target over 50ms items")
	assert.Greater(t, res.EstimatedSpeedup, 1.5)
	assert.False(t, res.Diagnostics.AdaptiveChunking)
	assert.Equal(t, 4, res.Diagnostics.MaxWorkers)
	assert.Len(t, res.Diagnostics.Candidates, 4)
	assert.Contains(t, res.Reason, "4 process_pool workers")
}

func TestDecide_HeterogeneousJobShrinksChunks(t *testing.T) {
	stats := computeStats(0.05, 10000)
	stats.CoefficientOfVariation = 0.8

	res := decide(DefaultConfig(), fourCoreProfile(), stats)

	require.Greater(t, res.Workers, 1)
	assert.True(t, res.Diagnostics.AdaptiveChunking)
	assert.Equal(t, 4, res.Diagnostics.BaselineChunkSize)
	assert.Less(t, res.ChunkSize, res.Diagnostics.BaselineChunkSize)
	assert.Contains(t, res.Reason, "uneven item times")
}

func TestDecide_ShrunkChunksBelowMinimumSpeedup(t *testing.T) {
	profile := fourCoreProfile()
	profile.ChunkSubmitOverhead = 0.05
	stats := computeStats(0.001, 10000)
	stats.CoefficientOfVariation = 10

	res := decide(DefaultConfig(), profile, stats)

	assert.True(t, res.IsSerial())
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
	assert.True(t, res.Diagnostics.AdaptiveChunking)
	assert.Equal(t, 200, res.Diagnostics.BaselineChunkSize)
	assert.Greater(t, res.Diagnostics.BestParallelSpeedup, 1.2, "unshrunk plan clears the minimum")
	assert.Contains(t, res.Reason, "shrink from 200 to 50")
	assert.Contains(t, res.Reason, "below the 1.20x minimum")
}

func TestDecide_TinyFastJob(t *testing.T) {
	res := decide(DefaultConfig(), fourCoreProfile(), computeStats(10e-6, 3))

	assert.Equal(t, 1, res.Workers)
	assert.Equal(t, types.BackendSerial, res.Backend)
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
	assert.Contains(t, res.Reason, "too small")
	assert.LessOrEqual(t, res.ChunkSize, 3)
}

func TestDecide_SingleItem(t *testing.T) {
	res := decide(DefaultConfig(), fourCoreProfile(), computeStats(10, 1))

	assert.True(t, res.IsSerial())
	assert.Equal(t, 1, res.ChunkSize)
	assert.Contains(t, res.Reason, "too small")
}

func TestDecide_EmptyInput(t *testing.T) {
	stats := computeStats(0, 0)
	stats.SampleCount = 0

	res := decide(DefaultConfig(), fourCoreProfile(), stats)

	assert.True(t, res.IsSerial())
	assert.Equal(t, 1, res.ChunkSize)
	assert.Equal(t, "no items to process", res.Reason)
}

func TestDecide_UnserializableItem(t *testing.T) {
	stats := computeStats(0.05, 10000)
	stats.ItemsSerializable = false
	stats.SerializationFailure = &types.SerializationFailure{
		Kind:    types.SerializeItem,
		Index:   7,
		ErrType: "*errors.errorString",
		Message: "gob: type func() not supported",
	}

	res := decide(DefaultConfig(), fourCoreProfile(), stats)

	assert.Equal(t, 1, res.Workers)
	assert.Equal(t, types.BackendSerial, res.Backend)
	assert.Contains(t, res.Reason, "cannot be sent to worker processes")
	assert.True(t, hasWarning(res, "item at index 7"))
	assert.True(t, hasWarning(res, "*errors.errorString"))
}

func TestDecide_UnserializableWithForcedThreadPool(t *testing.T) {
	stats := computeStats(0.05, 10000)
	stats.JobSerializable = false
	cfg := DefaultConfig()
	cfg.ForceBackend = types.BackendThreadPool

	res := decide(cfg, fourCoreProfile(), stats)

	assert.Equal(t, types.BackendThreadPool, res.Backend)
	assert.Equal(t, 4, res.Workers)
}

func TestDecide_IOBoundPrefersThreads(t *testing.T) {
	profile := fourCoreProfile()
	profile.LogicalCores = 8
	stats := computeStats(0.05, 10000)
	stats.Workload = types.WorkloadIO
	stats.CPURatio = 0.05

	res := decide(DefaultConfig(), profile, stats)

	assert.Equal(t, types.BackendThreadPool, res.Backend)
	assert.Equal(t, 8, res.Workers, "io bound work uses logical cores")
	assert.True(t, hasWarning(res, "workload appears IO-bound"))
}

func TestDecide_ForcedBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceBackend = types.BackendThreadPool
	stats := computeStats(0.05, 10000)

	res := decide(cfg, fourCoreProfile(), stats)
	assert.Equal(t, types.BackendThreadPool, res.Backend)
	assert.False(t, hasWarning(res, "IO-bound"))

	cfg.ForceBackend = types.BackendSerial
	res = decide(cfg, fourCoreProfile(), stats)
	assert.True(t, res.IsSerial())
	assert.Contains(t, res.Reason, "forced")
}

func TestDecide_ContainerMemoryLimit(t *testing.T) {
	profile := fourCoreProfile()
	profile.AvailableMemory = 200 * types.MiB
	profile.MemorySource = types.MemoryCgroupV2

	res := decide(DefaultConfig(), profile, computeStats(0.05, 10000))

	assert.Equal(t, 3, res.Workers)
	assert.Equal(t, 3, res.Diagnostics.MaxWorkers)
	assert.True(t, hasWarning(res, "container memory limit reduced worker count to 3"))
}

func TestDecide_MemoryPerWorkerOverride(t *testing.T) {
	profile := fourCoreProfile()
	profile.AvailableMemory = 200 * types.MiB
	cfg := DefaultConfig()
	cfg.MaxMemoryPerWorker = 100 * types.MiB

	res := decide(cfg, profile, computeStats(0.05, 10000))

	assert.Equal(t, 2, res.Workers)
	assert.True(t, hasWarning(res, "available memory reduced worker count to 2"))
}

func TestDecide_NestedParallelismCapsWorkers(t *testing.T) {
	stats := computeStats(0.05, 10000)
	stats.NestedParallelism = "cpu time 2.0x wall time"
	stats.InternalThreads = 2

	res := decide(DefaultConfig(), fourCoreProfile(), stats)

	assert.Equal(t, 2, res.Workers)
	assert.True(t, hasWarning(res, "parallelize internally"))
}

func TestDecide_NestedParallelismUsingAllCores(t *testing.T) {
	stats := computeStats(0.05, 10000)
	stats.NestedParallelism = "module github.com/sourcegraph/conc"
	stats.InternalThreads = 8

	res := decide(DefaultConfig(), fourCoreProfile(), stats)

	assert.True(t, res.IsSerial())
	assert.Contains(t, res.Reason, "only one worker")
}

func TestDecide_BelowMinimumSpeedup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeedup = 10

	res := decide(cfg, fourCoreProfile(), computeStats(0.05, 10000))

	assert.True(t, res.IsSerial())
	assert.Equal(t, 1.0, res.EstimatedSpeedup)
	assert.Contains(t, res.Reason, "below the 10.00x minimum")
	assert.Greater(t, res.Diagnostics.BestParallelSpeedup, 1.5)
}

func TestDecide_StreamingInput(t *testing.T) {
	res := decide(DefaultConfig(), fourCoreProfile(), computeStats(0.05, -1))

	assert.Equal(t, 4, res.Workers)
	assert.True(t, hasWarning(res, "assuming 10000 items"))
}

func TestDecide_CarriesProfileWarnings(t *testing.T) {
	profile := fourCoreProfile()
	profile.Warnings = []string{"unable to measure process spawn cost reliably, using fallback"}

	res := decide(DefaultConfig(), profile, computeStats(10e-6, 3))

	assert.True(t, hasWarning(res, "using fallback"))
}

func TestDecide_SerialChunkNeverExceedsItems(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 50, 1000} {
		for _, mean := range []float64{0, 1e-7, 1e-5, 1e-3, 0.05, 2} {
			res := decide(DefaultConfig(), fourCoreProfile(), computeStats(mean, n))
			if res.Workers == 1 {
				assert.LessOrEqual(t, res.ChunkSize, n, "n=%d mean=%v", n, mean)
			}
			assert.GreaterOrEqual(t, res.ChunkSize, 1)
			assert.NotEmpty(t, res.Reason)
		}
	}
}

func TestDecide_ParallelChunkLeavesWorkForEveryWorker(t *testing.T) {
	res := decide(DefaultConfig(), fourCoreProfile(), computeStats(0.01, 40))

	if !res.IsSerial() {
		assert.LessOrEqual(t, res.ChunkSize*res.Workers, 40+res.Workers)
	}
}

func BenchmarkDecide(b *testing.B) {
	cfg := DefaultConfig()
	profile := fourCoreProfile()
	stats := computeStats(0.002, 100000)
	stats.CoefficientOfVariation = 0.8

	for b.Loop() {
		decide(cfg, profile, stats)
	}
}
