// Package history keeps a log of optimization decisions on disk and
// predicts configurations for jobs that have been seen before.
package history

import (
	"time"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Record is one logged decision.
type Record struct {
	ID        string            `json:"id" yaml:"id"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Features  types.JobFeatures `json:"features" yaml:"features"`
	Decision  Decision          `json:"decision" yaml:"decision"`
}

// Decision is the part of a types.Result worth keeping.
type Decision struct {
	Workers          int           `json:"workers" yaml:"workers"`
	ChunkSize        int           `json:"chunk_size" yaml:"chunk_size"`
	Backend          types.Backend `json:"backend" yaml:"backend"`
	EstimatedSpeedup float64       `json:"estimated_speedup" yaml:"estimated_speedup"`
	Reason           string        `json:"reason" yaml:"reason"`
	Warnings         []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	MeanItemTime     float64       `json:"mean_item_time,omitempty" yaml:"mean_item_time,omitempty"`
}

// plan is the configuration predictions vote on.
type plan struct {
	workers int
	chunk   int
	backend types.Backend
}

func (d Decision) plan() plan {
	return plan{workers: d.Workers, chunk: d.ChunkSize, backend: d.Backend}
}

// matches reports whether r was recorded for the same job, input size
// class and machine as f.
func (r *Record) matches(f types.JobFeatures) bool {
	return r.Features.JobName == f.JobName &&
		r.Features.SizeBucket == f.SizeBucket &&
		r.Features.Fingerprint == f.Fingerprint
}
