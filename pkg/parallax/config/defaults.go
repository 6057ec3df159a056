// Package config provides configuration management for parallax.
package config

import (
	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/chunking"
	"github.com/jamesainslie/parallax/pkg/parallax/costmodel"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
)

// Default configuration values for parallax.
const (
	// DefaultSampleSize is the number of items sampled before deciding.
	DefaultSampleSize = optimizer.DefaultSampleSize

	// DefaultTargetChunkDuration is how long one chunk should take.
	DefaultTargetChunkDuration = optimizer.DefaultTargetChunkDuration

	// DefaultMinSpeedup is the margin a parallel plan must beat serial by.
	DefaultMinSpeedup = optimizer.DefaultMinSpeedup

	// DefaultFastRejectMultiple rejects jobs shorter than this many spawns.
	DefaultFastRejectMultiple = optimizer.DefaultFastRejectMultiple

	// DefaultAdaptiveChunkingThreshold is the coefficient of variation
	// above which chunks shrink.
	DefaultAdaptiveChunkingThreshold = chunking.DefaultThreshold

	// DefaultOverlapFraction is the share of IPC paid serially.
	DefaultOverlapFraction = costmodel.DefaultOverlapFraction

	// DefaultStreamingItems is the length assumed for streaming inputs.
	DefaultStreamingItems = costmodel.DefaultStreamingItems

	// DefaultMinPredictionConfidence is the confidence needed to skip sampling.
	DefaultMinPredictionConfidence = optimizer.DefaultMinPredictionConfidence

	// DefaultCacheTTL is how long a cached decision stays valid.
	DefaultCacheTTL = cache.DefaultTTL

	// DefaultCacheMemoryEntries is the size of the in-memory cache front.
	DefaultCacheMemoryEntries = cache.DefaultMemoryEntries

	// DefaultRetentionDays is the default number of days to retain history.
	DefaultRetentionDays = 30

	// DefaultMinRecords is the number of agreeing records a prediction needs.
	DefaultMinRecords = history.DefaultMinRecords

	// DefaultHistoryWindow is how many recent records vote on a prediction.
	DefaultHistoryWindow = history.DefaultWindow

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "10MB"
)

// defaultComponentLevels are the per-component log levels written by default.
var defaultComponentLevels = map[string]string{
	"profiler":  "info",
	"sampler":   "info",
	"optimizer": "info",
	"cache":     "warn",
	"history":   "warn",
}
