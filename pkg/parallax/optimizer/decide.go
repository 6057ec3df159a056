package optimizer

import (
	"fmt"
	"math"

	"github.com/jamesainslie/parallax/pkg/parallax/chunking"
	"github.com/jamesainslie/parallax/pkg/parallax/costmodel"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Per-worker memory estimation.
const (
	// processWorkerBaseline is the resident size of an idle worker process.
	processWorkerBaseline = 64 * types.MiB

	// threadWorkerBaseline covers a goroutine worker's stack and buffers.
	threadWorkerBaseline = 2 * types.MiB

	// bufferedChunks is the number of chunks a worker holds at once: the
	// one being computed and the next one in flight.
	bufferedChunks = 2
)

// decision carries the state of one run through the decision steps.
type decision struct {
	cfg     Config
	params  costmodel.Params
	profile *types.SystemProfile
	stats   *types.SampleStats

	items    int
	warnings []string
	diag     *types.Diagnostics
}

// decide picks a configuration from the profile and sample statistics. It
// performs no I/O and is deterministic.
func decide(cfg Config, profile *types.SystemProfile, stats *types.SampleStats) *types.Result {
	d := &decision{
		cfg:     cfg,
		params:  cfg.params(),
		profile: profile,
		stats:   stats,
		diag: &types.Diagnostics{
			Source:  types.SourceSampled,
			Profile: profile,
			Stats:   stats,
		},
	}
	d.items = costmodel.Items(stats, d.params)
	d.warnings = append(d.warnings, profile.Warnings...)
	d.warnings = append(d.warnings, stats.Warnings...)
	if !stats.KnownLength() {
		d.warn("input length unknown; assuming %d items", d.items)
	}

	d.diag.SerialSeconds = costmodel.SerialTime(stats, d.params)
	d.diag.MaxWorkers = 1

	return d.run()
}

func (d *decision) run() *types.Result {
	stats := d.stats

	if d.cfg.ForceBackend == types.BackendSerial {
		return d.serial("serial execution forced by configuration")
	}

	if !stats.Serializable() && d.cfg.ForceBackend != types.BackendThreadPool {
		if f := stats.SerializationFailure; f != nil {
			d.warn("%s", f.String())
		}
		return d.serial("job or its data cannot be sent to worker processes; running serially")
	}

	if stats.SampleCount == 0 || d.items == 0 {
		return d.serial("no items to process")
	}

	backend := d.backend()
	spawn := d.profile.SpawnCost(backend)
	serialTime := d.diag.SerialSeconds

	if d.items <= 1 {
		return d.serial("workload too small to benefit from parallelism: only one item")
	}
	if serialTime < d.cfg.FastRejectMultiple*spawn {
		return d.serial(fmt.Sprintf(
			"workload too small or fast to benefit from parallelism: serial runtime %s is under %gx the %s spawn cost of %s",
			types.FormatSeconds(serialTime), d.cfg.FastRejectMultiple, backend, types.FormatSeconds(spawn)))
	}

	maxWorkers := d.workerLimit(backend)
	d.diag.MaxWorkers = maxWorkers

	best := costmodel.Predict(d.profile, stats, costmodel.Plan{
		Workers:   1,
		ChunkSize: d.serialChunk(),
		Backend:   types.BackendSerial,
	}, d.params)
	d.diag.Candidates = append(d.diag.Candidates, best.Candidate())

	var bestParallel *costmodel.Estimate
	for w := 2; w <= maxWorkers; w++ {
		est := costmodel.Predict(d.profile, stats, costmodel.Plan{
			Workers:   w,
			ChunkSize: d.chunkFor(w),
			Backend:   backend,
		}, d.params)
		d.diag.Candidates = append(d.diag.Candidates, est.Candidate())
		if bestParallel == nil || est.Speedup > bestParallel.Speedup {
			bestParallel = &est
		}
		if est.Speedup > best.Speedup {
			best = est
		}
	}

	if bestParallel == nil {
		return d.serial("only one worker is feasible on this machine")
	}
	d.diag.BestParallelSpeedup = bestParallel.Speedup

	if best.Workers <= 1 || best.Speedup < d.cfg.MinSpeedup {
		return d.serial(fmt.Sprintf(
			"best parallel plan (%d %s workers, chunks of %d) predicts %.2fx speedup, below the %.2fx minimum",
			bestParallel.Workers, bestParallel.Backend, bestParallel.ChunkSize, bestParallel.Speedup, d.cfg.MinSpeedup))
	}

	d.diag.BaselineChunkSize = best.ChunkSize
	reason := fmt.Sprintf("%d %s workers with chunks of %d items predict %.2fx speedup over %s serial",
		best.Workers, best.Backend, best.ChunkSize, best.Speedup, types.FormatSeconds(serialTime))

	if adjusted := chunking.Adjust(best.ChunkSize, stats.CoefficientOfVariation, d.cfg.AdaptiveChunkingThreshold); adjusted != best.ChunkSize {
		d.diag.AdaptiveChunking = true
		reason += fmt.Sprintf("; chunk size reduced from %d to %d for uneven item times (cv %.2f)",
			best.ChunkSize, adjusted, stats.CoefficientOfVariation)
		best = costmodel.Predict(d.profile, stats, costmodel.Plan{
			Workers:   best.Workers,
			ChunkSize: adjusted,
			Backend:   best.Backend,
		}, d.params)

		// Smaller chunks pay the submit overhead more often.
		if best.Speedup < d.cfg.MinSpeedup {
			return d.serial(fmt.Sprintf(
				"%d %s workers predict %.2fx speedup once chunks shrink from %d to %d for uneven item times (cv %.2f), below the %.2fx minimum",
				best.Workers, best.Backend, best.Speedup, d.diag.BaselineChunkSize, adjusted,
				stats.CoefficientOfVariation, d.cfg.MinSpeedup))
		}
	}

	return &types.Result{
		Workers:          best.Workers,
		ChunkSize:        best.ChunkSize,
		Backend:          best.Backend,
		EstimatedSpeedup: best.Speedup,
		Reason:           reason,
		Warnings:         d.warnings,
		Diagnostics:      d.diag,
	}
}

// backend picks the parallel backend for the workload.
func (d *decision) backend() types.Backend {
	if d.cfg.ForceBackend != "" {
		return d.cfg.ForceBackend
	}
	if d.stats.Workload == types.WorkloadIO {
		d.warn("workload appears IO-bound; using %s", types.BackendThreadPool)
		return types.BackendThreadPool
	}
	return types.BackendProcessPool
}

// workerLimit returns the largest worker count worth evaluating.
func (d *decision) workerLimit(backend types.Backend) int {
	cores := d.profile.PhysicalCores
	if d.stats.Workload == types.WorkloadIO {
		cores = d.profile.LogicalCores
	}
	cores = max(cores, 1)
	limit := min(cores, d.items)

	perWorker := d.memoryPerWorker(backend)
	if perWorker > 0 && d.profile.AvailableMemory >= 0 {
		byMemory := int(min(d.profile.AvailableMemory/perWorker, math.MaxInt32))
		if byMemory < limit {
			limit = max(byMemory, 1)
			if d.profile.MemorySource.IsContainer() {
				d.warn("container memory limit reduced worker count to %d", limit)
			} else {
				d.warn("available memory reduced worker count to %d", limit)
			}
		}
	}

	if threads := d.stats.InternalThreads; d.stats.NestedParallelism != "" && threads > 1 {
		capped := max(1, cores/threads)
		if capped < limit {
			limit = capped
		}
		d.warn("job appears to parallelize internally (%s); limiting to %d workers", d.stats.NestedParallelism, limit)
	}

	return limit
}

// memoryPerWorker estimates the memory one worker needs.
func (d *decision) memoryPerWorker(backend types.Backend) int64 {
	if d.cfg.MaxMemoryPerWorker > 0 {
		return d.cfg.MaxMemoryPerWorker
	}
	baseline := int64(processWorkerBaseline)
	if backend == types.BackendThreadPool {
		baseline = threadWorkerBaseline
	}
	payload := (d.stats.AvgInputBytes + d.stats.AvgOutputBytes) * float64(d.targetChunk()) * bufferedChunks
	return baseline + int64(payload)
}

// targetChunk is the chunk size that takes TargetChunkDuration to compute.
func (d *decision) targetChunk() int {
	mean := d.stats.MeanItemTime
	if mean <= 0 {
		return max(d.items, 1)
	}
	target := d.cfg.TargetChunkDuration.Seconds() / mean
	if target >= float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return max(1, int(math.Round(target)))
}

// chunkFor returns the chunk size for a plan with the given worker count,
// never so large that a worker would be left without a chunk.
func (d *decision) chunkFor(workers int) int {
	perWorker := (d.items + workers - 1) / workers
	return max(1, min(d.targetChunk(), perWorker))
}

// serialChunk is the chunk size reported for serial results.
func (d *decision) serialChunk() int {
	return d.chunkFor(1)
}

func (d *decision) serial(reason string) *types.Result {
	return &types.Result{
		Workers:          1,
		ChunkSize:        d.serialChunk(),
		Backend:          types.BackendSerial,
		EstimatedSpeedup: 1.0,
		Reason:           reason,
		Warnings:         d.warnings,
		Diagnostics:      d.diag,
	}
}

func (d *decision) warn(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}
