// Package costmodel predicts the wall-clock time of running a sampled job
// under a given worker count, chunk size and backend. Predictions are pure
// functions of the system profile and sample statistics.
package costmodel

import (
	"math"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Default parameter values.
const (
	// DefaultOverlapFraction is the share of IPC time that cannot overlap
	// with computation and is paid serially by the dispatcher.
	DefaultOverlapFraction = 0.5

	// DefaultStreamingItems is the item count assumed for inputs of
	// unknown length.
	DefaultStreamingItems = 10000
)

// Params tunes the model.
type Params struct {
	// OverlapFraction is in [0, 1]. Zero models fully overlapped IPC.
	OverlapFraction float64

	// StreamingItems replaces TotalItems when the input length is unknown.
	StreamingItems int
}

// DefaultParams returns the default model parameters.
func DefaultParams() Params {
	return Params{
		OverlapFraction: DefaultOverlapFraction,
		StreamingItems:  DefaultStreamingItems,
	}
}

// Plan is one configuration to evaluate.
type Plan struct {
	Workers   int
	ChunkSize int
	Backend   types.Backend
}

// Estimate is the predicted cost of a Plan. All times are in seconds.
type Estimate struct {
	Plan

	// Items is the item count the estimate was computed for.
	Items int

	// Serial is the predicted runtime with one worker.
	Serial float64

	// Parallel is the predicted runtime of the plan.
	Parallel float64

	// Speedup is Serial over Parallel. It is not clamped.
	Speedup float64

	// Breakdown of Parallel.
	Spawn       float64
	Compute     float64
	Chunking    float64
	IPCSerial   float64
	IPCParallel float64
}

// Items returns the item count used for stats under p.
func Items(stats *types.SampleStats, p Params) int {
	if stats.KnownLength() {
		return stats.TotalItems
	}
	if p.StreamingItems > 0 {
		return p.StreamingItems
	}
	return DefaultStreamingItems
}

// SerialTime returns the predicted single-worker runtime.
func SerialTime(stats *types.SampleStats, p Params) float64 {
	return stats.MeanItemTime * float64(Items(stats, p))
}

// Predict estimates the runtime of plan.
//
// The parallel time is the sum of
//   - worker start-up: spawn cost times (workers - 1)
//   - computation: serial time divided by workers
//   - chunk dispatch: per-chunk overhead times the number of chunks
//   - IPC, for the process backend only: the non-overlapping share is paid
//     once, the rest is divided across workers
//
// A plan with one worker or fewer is serial and has a speedup of exactly 1.
func Predict(profile *types.SystemProfile, stats *types.SampleStats, plan Plan, p Params) Estimate {
	n := Items(stats, p)
	serial := stats.MeanItemTime * float64(n)

	est := Estimate{
		Plan:   plan,
		Items:  n,
		Serial: serial,
	}

	if plan.Workers <= 1 || plan.Backend == types.BackendSerial {
		est.Parallel = serial
		est.Compute = serial
		est.Speedup = 1.0
		return est
	}

	workers := float64(plan.Workers)
	chunk := max(plan.ChunkSize, 1)

	est.Spawn = profile.SpawnCost(plan.Backend) * (workers - 1)
	est.Compute = serial / workers
	est.Chunking = profile.ChunkSubmitOverhead * math.Ceil(float64(n)/float64(chunk))

	if plan.Backend == types.BackendProcessPool {
		overlap := min(max(p.OverlapFraction, 0), 1)
		ipc := (stats.AvgInputSerializeTime + stats.AvgOutputSerializeTime) * float64(n)
		est.IPCSerial = ipc * overlap
		est.IPCParallel = (ipc - est.IPCSerial) / workers
	}

	est.Parallel = est.Spawn + est.Compute + est.Chunking + est.IPCSerial + est.IPCParallel
	est.Speedup = speedup(serial, est.Parallel)
	return est
}

// Candidate converts e to its diagnostic form.
func (e Estimate) Candidate() types.Candidate {
	return types.Candidate{
		Workers:   e.Workers,
		ChunkSize: e.ChunkSize,
		Backend:   e.Backend,
		Predicted: e.Parallel,
		Speedup:   e.Speedup,
	}
}

func speedup(serial, parallel float64) float64 {
	switch {
	case parallel > 0:
		return serial / parallel
	case serial == 0:
		return 1.0
	default:
		return math.Inf(1)
	}
}
