// Package profiler detects machine capabilities and measures the overheads
// that decide whether parallel execution pays off: worker spawn cost per
// backend and the fixed cost of submitting a batch to a worker.
//
// The profile is computed once per process on first use and shared
// read-only afterwards. Detection never fails; measurements that are too
// noisy fall back to conservative platform constants and say so in the
// profile's warnings.
package profiler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("profiler")

// Options controls detection. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// Root is the filesystem root used for /proc and /sys lookups.
	Root string

	// Samples is the number of timed probes per attempt, after the cold
	// probe is discarded.
	Samples int

	// MaxAttempts bounds how often a noisy measurement is retried before
	// the platform fallback is used.
	MaxAttempts int

	// MaxRelativeSpread is the largest accepted median absolute deviation
	// relative to the median.
	MaxRelativeSpread float64

	// SkipProcessProbe uses the platform constant for process spawn cost
	// instead of starting child processes.
	SkipProcessProbe bool
}

// DefaultOptions returns the options Get uses.
func DefaultOptions() Options {
	return Options{
		Root:              "/",
		Samples:           7,
		MaxAttempts:       3,
		MaxRelativeSpread: 0.5,
	}
}

var (
	current atomic.Pointer[types.SystemProfile]
	mu      sync.Mutex
)

// Get returns the process-wide profile, computing it on first call.
// Concurrent first callers block until one of them finishes detection.
func Get() *types.SystemProfile {
	if p := current.Load(); p != nil {
		return p
	}

	mu.Lock()
	defer mu.Unlock()

	if p := current.Load(); p != nil {
		return p
	}

	p := Detect(DefaultOptions())
	current.Store(p)
	return p
}

// ResetForTesting discards the cached profile so the next Get recomputes it.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	current.Store(nil)
}

// PhysicalCores returns the number of physical cores, at least 1.
func PhysicalCores() int {
	return Get().PhysicalCores
}

// LogicalCores returns the number of schedulable hardware threads.
func LogicalCores() int {
	return Get().LogicalCores
}

// AvailableMemory returns usable memory in bytes, honoring container limits.
func AvailableMemory() int64 {
	return Get().AvailableMemory
}

// MeasureSpawnCost returns the measured worker start-up cost for backend,
// in seconds.
func MeasureSpawnCost(backend types.Backend) float64 {
	return Get().SpawnCost(backend)
}

// MeasureChunkOverhead returns the measured per-batch submission cost, in
// seconds.
func MeasureChunkOverhead() float64 {
	return Get().ChunkSubmitOverhead
}

// Detect computes a fresh profile without touching the shared one.
func Detect(opts Options) *types.SystemProfile {
	if opts.Root == "" {
		opts.Root = "/"
	}
	if opts.Samples <= 0 {
		opts.Samples = DefaultOptions().Samples
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxRelativeSpread <= 0 {
		opts.MaxRelativeSpread = DefaultOptions().MaxRelativeSpread
	}

	start := time.Now()
	p := &types.SystemProfile{MeasuredAt: start}

	cores := detectCores(opts.Root)
	p.PhysicalCores = cores.physical
	p.LogicalCores = cores.logical
	p.CoreSource = cores.source
	p.Warnings = append(p.Warnings, cores.warnings...)

	memory := detectMemory(opts.Root)
	p.AvailableMemory = memory.available
	p.TotalMemory = memory.total
	p.MemorySource = memory.source
	p.Warnings = append(p.Warnings, memory.warnings...)

	thread := measure("thread spawn", threadSpawnProbe, threadSpawnFallback, opts)
	p.ThreadSpawnCost = thread.value
	p.ThreadSpawnFallback = thread.fallback
	p.Warnings = append(p.Warnings, thread.warnings...)

	var process measurement
	if opts.SkipProcessProbe {
		process = measurement{value: processSpawnFallback(runtime.GOOS), fallback: true}
	} else {
		process = measure("process spawn", processSpawnProbe, processSpawnFallback(runtime.GOOS), opts)
	}
	p.ProcessSpawnCost = process.value
	p.ProcessSpawnFallback = process.fallback
	p.Warnings = append(p.Warnings, process.warnings...)

	chunk := measure("chunk submit", chunkOverheadProbe, chunkOverheadFallback, opts)
	p.ChunkSubmitOverhead = chunk.value
	p.ChunkOverheadFallback = chunk.fallback
	p.Warnings = append(p.Warnings, chunk.warnings...)

	logger.Debug("system profile detected",
		"physical_cores", p.PhysicalCores,
		"logical_cores", p.LogicalCores,
		"core_source", p.CoreSource,
		"memory", types.FormatSize(p.AvailableMemory),
		"total_memory", types.FormatSize(p.TotalMemory),
		"memory_source", p.MemorySource,
		"thread_spawn", types.FormatSeconds(p.ThreadSpawnCost),
		"process_spawn", types.FormatSeconds(p.ProcessSpawnCost),
		"chunk_submit", types.FormatSeconds(p.ChunkSubmitOverhead),
		"elapsed", time.Since(start),
	)
	for _, w := range p.Warnings {
		logger.Warn(w)
	}

	return p
}
