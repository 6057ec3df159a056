// Package sampler runs a job on a short prefix of its input to measure
// per-item cost, serialization overhead and workload shape, then hands
// back an input that still yields every item in the original order.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/jamesainslie/parallax/pkg/parallax/job"
	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("sampler")

// Default option values.
const (
	DefaultSampleSize       = 5
	DefaultComputeThreshold = 0.7
	DefaultIOThreshold      = 0.3
	DefaultNestedCPURatio   = 1.5
)

// Options controls a sampling run.
type Options struct {
	// SampleSize is the maximum number of items the job is run on.
	SampleSize int

	// Codec encodes items and results to measure IPC cost. Nil uses gob.
	Codec Codec

	// SkipSerialization disables the job and value serialization checks,
	// for callers that will only ever run the job in-process.
	SkipSerialization bool

	// ComputeThreshold is the CPU/wall ratio at or above which a job is
	// compute bound.
	ComputeThreshold float64

	// IOThreshold is the CPU/wall ratio at or below which a job is IO bound.
	IOThreshold float64

	// NestedCPURatio is the CPU/wall ratio above which the job is assumed
	// to run threads of its own.
	NestedCPURatio float64
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		SampleSize:       DefaultSampleSize,
		Codec:            GobCodec{},
		ComputeThreshold: DefaultComputeThreshold,
		IOThreshold:      DefaultIOThreshold,
		NestedCPURatio:   DefaultNestedCPURatio,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.Codec == nil {
		o.Codec = d.Codec
	}
	if o.ComputeThreshold <= 0 {
		o.ComputeThreshold = d.ComputeThreshold
	}
	if o.IOThreshold <= 0 {
		o.IOThreshold = d.IOThreshold
	}
	if o.NestedCPURatio <= 0 {
		o.NestedCPURatio = d.NestedCPURatio
	}
	return o
}

// environment is replaced in tests.
var environment = struct {
	getenv  func(string) string
	modules func() []*debug.Module
}{
	getenv:  os.Getenv,
	modules: linkedModules,
}

// Sample runs j on up to opts.SampleSize items from the front of in.
//
// The returned input yields the sampled items followed by the rest of in,
// exactly once and in order. It is returned even when Sample fails, so the
// caller never loses items; Close it if it will not be consumed.
//
// Serialization problems are reported in the stats, not as errors. An
// error returned by the job is passed back unchanged, and cancellation of
// ctx is honored between items.
func Sample[T, R any](ctx context.Context, j *job.Job[T, R], in *Input[T], opts Options) (*types.SampleStats, *Input[T], error) {
	opts = opts.withDefaults()

	stats := &types.SampleStats{
		TotalItems:        in.Len(),
		JobSerializable:   true,
		ItemsSerializable: true,
	}

	if !opts.SkipSerialization {
		if err := j.Check(); err != nil {
			stats.JobSerializable = false
			stats.SerializationFailure = failure(types.SerializeJob, -1, err)
			logger.Debug("job not serializable", "error", err)
			return stats, in, nil
		}
	}

	cur := in.cursor()
	prefix := make([]T, 0, opts.SampleSize)
	exhausted := false

	var (
		timing          RunningStats
		inSerTime       float64
		inBytes         float64
		outSerTime      float64
		outBytes        float64
		serialized      int
		cpuTotal        time.Duration
		wallTotal       time.Duration
		cpuKnown        = true
		goroutinesStart = runtime.NumGoroutine()
	)

	for i := 0; i < opts.SampleSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, cur.finish(prefix, false), err
		}

		item, ok := cur.next()
		if !ok {
			exhausted = true
			break
		}
		prefix = append(prefix, item)

		if !opts.SkipSerialization {
			start := time.Now()
			data, err := opts.Codec.Encode(item)
			if err != nil {
				stats.ItemsSerializable = false
				stats.SerializationFailure = failure(types.SerializeItem, i, err)
				break
			}
			inSerTime += time.Since(start).Seconds()
			inBytes += float64(len(data))
		}

		cpuStart, cpuOK := processCPUTime()
		start := time.Now()
		out, err := j.Call(ctx, item)
		wall := time.Since(start)
		cpuEnd, cpuEndOK := processCPUTime()

		if err != nil {
			return nil, cur.finish(prefix, false), err
		}

		timing.Add(wall.Seconds())
		wallTotal += wall
		if cpuOK && cpuEndOK {
			cpuTotal += cpuEnd - cpuStart
		} else {
			cpuKnown = false
		}

		if !opts.SkipSerialization {
			start := time.Now()
			data, err := opts.Codec.Encode(out)
			if err != nil {
				stats.ItemsSerializable = false
				stats.SerializationFailure = failure(types.SerializeResult, i, err)
				break
			}
			outSerTime += time.Since(start).Seconds()
			outBytes += float64(len(data))
			serialized++
		}
	}
	goroutineDelta := runtime.NumGoroutine() - goroutinesStart

	if exhausted && stats.TotalItems < 0 {
		stats.TotalItems = len(prefix)
	}

	stats.SampleCount = timing.Count()
	stats.MeanItemTime = timing.Mean()
	stats.Variance = timing.Variance()
	stats.CoefficientOfVariation = timing.CV()
	if serialized > 0 {
		n := float64(serialized)
		stats.AvgInputSerializeTime = inSerTime / n
		stats.AvgInputBytes = inBytes / n
		stats.AvgOutputSerializeTime = outSerTime / n
		stats.AvgOutputBytes = outBytes / n
	}

	classify(stats, cpuTotal, wallTotal, cpuKnown, opts)

	if stats.SampleCount > 0 {
		signal, found := detectNested(nestedInput{
			cpuRatio:       stats.CPURatio,
			cpuKnown:       cpuKnown,
			nestedRatio:    opts.NestedCPURatio,
			goroutineDelta: goroutineDelta,
			getenv:         environment.getenv,
			deps:           environment.modules(),
		})
		if found {
			stats.NestedParallelism = signal.name
			stats.InternalThreads = signal.threads
		}
	}

	logger.Debug("sampled",
		"items", stats.SampleCount,
		"mean", types.FormatSeconds(stats.MeanItemTime),
		"cv", stats.CoefficientOfVariation,
		"workload", stats.Workload,
		"cpu_ratio", stats.CPURatio,
		"serializable", stats.Serializable(),
		"nested", stats.NestedParallelism,
	)

	return stats, cur.finish(prefix, exhausted), nil
}

// classify sets CPURatio and Workload from the CPU and wall time spent
// inside the job.
func classify(stats *types.SampleStats, cpu, wall time.Duration, cpuKnown bool, opts Options) {
	switch {
	case stats.SampleCount == 0 || wall <= 0:
		stats.Workload = types.WorkloadMixed
		return
	case !cpuKnown:
		stats.Workload = types.WorkloadMixed
		stats.Warnings = append(stats.Warnings, "process CPU time unavailable; treating workload as mixed")
		return
	}

	stats.CPURatio = cpu.Seconds() / wall.Seconds()
	switch {
	case stats.CPURatio >= opts.ComputeThreshold:
		stats.Workload = types.WorkloadCompute
	case stats.CPURatio <= opts.IOThreshold:
		stats.Workload = types.WorkloadIO
	default:
		stats.Workload = types.WorkloadMixed
	}
}

func failure(kind types.SerializationKind, index int, err error) *types.SerializationFailure {
	return &types.SerializationFailure{
		Kind:    kind,
		Index:   index,
		ErrType: errorType(err),
		Message: err.Error(),
	}
}

// errorType names the type of the innermost wrapped error.
func errorType(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return fmt.Sprintf("%T", err)
		}
		err = inner
	}
}
