package optimizer

import (
	"strconv"
	"strings"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// ResultCache stores decisions across processes. Implementations must be
// safe for concurrent use.
type ResultCache interface {
	Lookup(key string) (*types.Result, bool)
	Store(key string, result *types.Result) error
}

// Predictor suggests a configuration from past runs of the same job.
type Predictor interface {
	Predict(features types.JobFeatures) (types.Prediction, bool)
}

// Recorder is told about every freshly sampled decision.
type Recorder interface {
	Record(features types.JobFeatures, result *types.Result) error
}

type noCache struct{}

func (noCache) Lookup(string) (*types.Result, bool) { return nil, false }
func (noCache) Store(string, *types.Result) error { return nil }

type noPredictor struct{}

func (noPredictor) Predict(types.JobFeatures) (types.Prediction, bool) {
	return types.Prediction{}, false
}

type noRecorder struct{}

func (noRecorder) Record(types.JobFeatures, *types.Result) error { return nil }

// keyVersion changes whenever the meaning of a cached result changes.
const keyVersion = "v1"

// Key returns the cache key for a job invocation: the job name, the size
// bucket of its input and the machine fingerprint.
func Key(f types.JobFeatures) string {
	return strings.Join([]string{
		keyVersion,
		f.JobName,
		strconv.Itoa(f.SizeBucket),
		f.Fingerprint,
	}, ":")
}

// KeyPrefix returns the prefix shared by the keys of every entry for job.
func KeyPrefix(job string) string {
	return keyVersion + ":" + job + ":"
}
