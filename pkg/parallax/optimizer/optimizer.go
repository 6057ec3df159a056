// Package optimizer decides whether and how to parallelize a job over its
// input. It samples the job on a few items, combines the measurements with
// the machine profile through the cost model, and returns the number of
// workers, the chunk size and the backend to run with.
//
// Decisions can be shared across processes through a ResultCache and
// short-circuited by a Predictor trained on past runs. Both are optional.
package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/parallax/pkg/parallax/job"
	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/profiler"
	"github.com/jamesainslie/parallax/pkg/parallax/sampler"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("optimizer")

// Optimizer holds the configuration and collaborators for optimization
// runs. It is safe for concurrent use as long as its collaborators are.
type Optimizer struct {
	cfg       Config
	profile   func() *types.SystemProfile
	codec     sampler.Codec
	cache     ResultCache
	predictor Predictor
	recorder  Recorder
	now       func() time.Time
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithProfile makes the optimizer use p instead of profiling the machine.
func WithProfile(p *types.SystemProfile) Option {
	return func(o *Optimizer) {
		o.profile = func() *types.SystemProfile { return p }
	}
}

// WithProfileFunc sets the function that supplies the system profile.
func WithProfileFunc(fn func() *types.SystemProfile) Option {
	return func(o *Optimizer) {
		o.profile = fn
	}
}

// WithCodec sets the codec used to measure serialization cost.
func WithCodec(c sampler.Codec) Option {
	return func(o *Optimizer) {
		o.codec = c
	}
}

// WithCache sets the result cache.
func WithCache(c ResultCache) Option {
	return func(o *Optimizer) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithPredictor sets the history predictor.
func WithPredictor(p Predictor) Option {
	return func(o *Optimizer) {
		if p != nil {
			o.predictor = p
		}
	}
}

// WithRecorder sets the recorder notified of fresh decisions.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New returns an Optimizer for cfg.
func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg:       cfg,
		profile:   profiler.Get,
		codec:     sampler.GobCodec{},
		cache:     noCache{},
		predictor: noPredictor{},
		recorder:  noRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the optimizer's configuration.
func (o *Optimizer) Config() Config {
	return o.cfg
}

// Outcome is the result of Optimize.
type Outcome[T any] struct {
	// Result is the decision. It is nil when Optimize fails.
	Result *types.Result

	// Items yields every input item in order, including the ones consumed
	// while sampling. Run the job over Items, not over the original input.
	Items *sampler.Input[T]
}

// Optimize decides how to run j over in.
//
// Optimize consumes a few items from in while sampling; the returned
// Outcome.Items yields them again followed by the rest. Items is set even
// when Optimize returns an error. An error returned by the job during
// sampling is returned as is.
func Optimize[T, R any](ctx context.Context, o *Optimizer, j *job.Job[T, R], in *sampler.Input[T]) (*Outcome[T], error) {
	started := o.now()
	runID := uuid.NewString()
	profile := o.profile()

	features := types.JobFeatures{
		JobName:     j.Name(),
		TotalItems:  in.Len(),
		SizeBucket:  types.SizeBucket(in.Len()),
		Fingerprint: profile.Fingerprint(),
	}
	log := logger.With("run", runID, "job", features.JobName)

	if res, ok := o.reuse(features, profile); ok {
		res.Diagnostics.RunID = runID
		res.Diagnostics.StartedAt = started
		res.Diagnostics.Elapsed = o.now().Sub(started)
		log.Info("reused decision",
			"source", res.Diagnostics.Source,
			"workers", res.Workers,
			"chunk", res.ChunkSize,
			"backend", res.Backend,
		)
		return &Outcome[T]{Result: res, Items: in}, nil
	}

	skipSerialization := o.cfg.ForceBackend == types.BackendThreadPool || o.cfg.ForceBackend == types.BackendSerial
	stats, items, err := sampler.Sample(ctx, j, in, sampler.Options{
		SampleSize:        o.cfg.SampleSize,
		Codec:             o.codec,
		SkipSerialization: skipSerialization,
	})
	if err != nil {
		log.Debug("sampling failed", "error", err)
		return &Outcome[T]{Items: items}, err
	}

	res := decide(o.cfg, profile, stats)
	res.Diagnostics.RunID = runID
	res.Diagnostics.JobName = features.JobName
	res.Diagnostics.StartedAt = started
	res.Diagnostics.Elapsed = o.now().Sub(started)

	log.Info("decided",
		"workers", res.Workers,
		"chunk", res.ChunkSize,
		"backend", res.Backend,
		"speedup", res.EstimatedSpeedup,
		"reason", res.Reason,
	)
	for _, w := range res.Warnings {
		log.Debug("warning", "message", w)
	}
	if log.DebugEnabled() {
		for _, c := range res.Diagnostics.Candidates {
			log.Debug("candidate",
				"workers", c.Workers,
				"chunk", c.ChunkSize,
				"backend", c.Backend,
				"speedup", c.Speedup,
			)
		}
	}

	if features.JobName != "" && o.cfg.ForceBackend == "" {
		features.TotalItems = stats.TotalItems
		features.Workload = stats.Workload
		if err := o.cache.Store(Key(features), res); err != nil {
			log.Warn("failed to cache decision", "error", err)
		}
		if err := o.recorder.Record(features, res); err != nil {
			log.Warn("failed to record decision", "error", err)
		}
	}

	return &Outcome[T]{Result: res, Items: items}, nil
}

// reuse returns a cached or predicted decision for features. Anonymous
// jobs and runs with a forced backend always sample.
func (o *Optimizer) reuse(features types.JobFeatures, profile *types.SystemProfile) (*types.Result, bool) {
	if features.JobName == "" || o.cfg.ForceBackend != "" {
		return nil, false
	}

	if cached, ok := o.cache.Lookup(Key(features)); ok && cached != nil && cached.Backend.Valid() {
		res := *cached
		res.Warnings = append([]string(nil), cached.Warnings...)
		res.Diagnostics = &types.Diagnostics{
			Source:  types.SourceCache,
			JobName: features.JobName,
			Profile: profile,
		}
		if cached.Diagnostics != nil {
			res.Diagnostics.SerialSeconds = cached.Diagnostics.SerialSeconds
			res.Diagnostics.MaxWorkers = cached.Diagnostics.MaxWorkers
			res.Diagnostics.BaselineChunkSize = cached.Diagnostics.BaselineChunkSize
			res.Diagnostics.AdaptiveChunking = cached.Diagnostics.AdaptiveChunking
		}
		fitToInput(&res, features.TotalItems)
		return &res, true
	}

	pred, ok := o.predictor.Predict(features)
	if !ok || pred.Confidence < o.cfg.MinPredictionConfidence || !pred.Backend.Valid() || pred.Workers < 1 {
		if ok {
			logger.Debug("prediction ignored", "job", features.JobName, "confidence", pred.Confidence)
		}
		return nil, false
	}

	res := &types.Result{
		Workers:          pred.Workers,
		ChunkSize:        max(pred.ChunkSize, 1),
		Backend:          pred.Backend,
		EstimatedSpeedup: pred.Speedup,
		Reason: fmt.Sprintf("predicted from %d past runs of %s with confidence %.2f",
			pred.Samples, features.JobName, pred.Confidence),
		Diagnostics: &types.Diagnostics{
			Source:  types.SourcePredictor,
			JobName: features.JobName,
			Profile: profile,
		},
	}
	if res.Backend == types.BackendSerial || res.Workers == 1 {
		res.Workers = 1
		res.Backend = types.BackendSerial
		res.EstimatedSpeedup = 1.0
	}
	fitToInput(res, features.TotalItems)
	return res, true
}

// fitToInput keeps a reused decision within the bounds of the current
// input, which may be smaller than the one the decision was made for.
func fitToInput(res *types.Result, n int) {
	if n < 0 {
		return
	}
	if n <= 1 {
		res.Workers = 1
		res.Backend = types.BackendSerial
		res.EstimatedSpeedup = 1.0
	}
	res.Workers = max(1, min(res.Workers, n))
	res.ChunkSize = max(1, min(res.ChunkSize, n))
}
