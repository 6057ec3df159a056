package optimizer

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jamesainslie/parallax/pkg/parallax/chunking"
	"github.com/jamesainslie/parallax/pkg/parallax/costmodel"
	"github.com/jamesainslie/parallax/pkg/parallax/sampler"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Default configuration values.
const (
	DefaultSampleSize              = sampler.DefaultSampleSize
	DefaultTargetChunkDuration     = 200 * time.Millisecond
	DefaultMinSpeedup              = 1.2
	DefaultFastRejectMultiple      = 2.0
	DefaultMinPredictionConfidence = 0.7
)

// Config controls a single optimization.
type Config struct {
	// SampleSize is the number of items the job is run on before deciding.
	SampleSize int `mapstructure:"sample_size" yaml:"sample_size" validate:"min=1,max=10000"`

	// TargetChunkDuration is how long one chunk should take to compute.
	TargetChunkDuration time.Duration `mapstructure:"target_chunk_duration" yaml:"target_chunk_duration" validate:"min=1ms"`

	// MaxMemoryPerWorker overrides the estimated memory footprint of one
	// worker, in bytes. Zero means estimate.
	MaxMemoryPerWorker int64 `mapstructure:"max_memory_per_worker" yaml:"max_memory_per_worker" validate:"min=0"`

	// ForceBackend, when set, replaces the backend the engine would pick.
	ForceBackend types.Backend `mapstructure:"force_backend" yaml:"force_backend" validate:"omitempty,oneof=serial thread_pool process_pool"`

	// AdaptiveChunkingThreshold is the coefficient of variation above
	// which chunks are shrunk.
	AdaptiveChunkingThreshold float64 `mapstructure:"adaptive_chunking_threshold" yaml:"adaptive_chunking_threshold" validate:"gt=0"`

	// MinSpeedup is the margin a parallel plan must beat serial by.
	MinSpeedup float64 `mapstructure:"min_speedup" yaml:"min_speedup" validate:"gte=1"`

	// FastRejectMultiple rejects jobs whose whole serial runtime is below
	// this many worker spawn costs.
	FastRejectMultiple float64 `mapstructure:"fast_reject_multiple" yaml:"fast_reject_multiple" validate:"gte=0"`

	// OverlapFraction is the share of IPC time paid serially.
	OverlapFraction float64 `mapstructure:"overlap_fraction" yaml:"overlap_fraction" validate:"gte=0,lte=1"`

	// StreamingItems is the item count assumed for inputs of unknown length.
	StreamingItems int `mapstructure:"streaming_items" yaml:"streaming_items" validate:"min=1"`

	// MinPredictionConfidence is the confidence a history prediction needs
	// to skip sampling.
	MinPredictionConfidence float64 `mapstructure:"min_prediction_confidence" yaml:"min_prediction_confidence" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SampleSize:                DefaultSampleSize,
		TargetChunkDuration:       DefaultTargetChunkDuration,
		AdaptiveChunkingThreshold: chunking.DefaultThreshold,
		MinSpeedup:                DefaultMinSpeedup,
		FastRejectMultiple:        DefaultFastRejectMultiple,
		OverlapFraction:           costmodel.DefaultOverlapFraction,
		StreamingItems:            costmodel.DefaultStreamingItems,
		MinPredictionConfidence:   DefaultMinPredictionConfidence,
	}
}

var validate = validator.New()

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid optimizer config: %w", err)
	}
	return nil
}

func (c Config) params() costmodel.Params {
	return costmodel.Params{
		OverlapFraction: c.OverlapFraction,
		StreamingItems:  c.StreamingItems,
	}
}
