// Package types provides the core data types shared by the parallax
// optimizer packages: the machine profile, sampling statistics, and the
// optimization result handed to an execution backend.
package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/spaolacci/murmur3"
)

// Backend identifies an execution strategy.
type Backend string

// Supported backends.
const (
	// BackendSerial runs every item on the calling goroutine.
	BackendSerial Backend = "serial"

	// BackendThreadPool runs items on a pool of goroutines sharing memory.
	// Items are not serialized.
	BackendThreadPool Backend = "thread_pool"

	// BackendProcessPool runs items in isolated worker processes. Jobs must
	// be registered by name and items must be encodable.
	BackendProcessPool Backend = "process_pool"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendSerial, BackendThreadPool, BackendProcessPool:
		return true
	}
	return false
}

// WorkloadType classifies a job by how much of its wall time is spent on CPU.
type WorkloadType string

// Workload classes.
const (
	WorkloadCompute WorkloadType = "compute_bound"
	WorkloadIO      WorkloadType = "io_bound"
	WorkloadMixed   WorkloadType = "mixed"
)

// MemorySource records which probe produced SystemProfile.AvailableMemory.
type MemorySource string

// Memory sources, in probe order.
const (
	MemoryCgroupV2 MemorySource = "cgroup-v2"
	MemoryCgroupV1 MemorySource = "cgroup-v1"
	MemoryHost     MemorySource = "host"
	MemoryFallback MemorySource = "fallback"
)

// IsContainer reports whether the memory figure came from a cgroup limit.
func (m MemorySource) IsContainer() bool {
	return m == MemoryCgroupV2 || m == MemoryCgroupV1
}

// SystemProfile is a snapshot of machine capabilities and measured
// overheads. It is computed once per process and read-only afterwards.
// All costs are in seconds.
type SystemProfile struct {
	// PhysicalCores is the number of physical cores, at least 1.
	PhysicalCores int `json:"physical_cores" yaml:"physical_cores"`

	// LogicalCores is the number of schedulable hardware threads, never
	// fewer than PhysicalCores.
	LogicalCores int `json:"logical_cores" yaml:"logical_cores"`

	// CoreSource describes how PhysicalCores was determined.
	CoreSource string `json:"core_source" yaml:"core_source"`

	// AvailableMemory is the usable memory in bytes, honoring container limits.
	AvailableMemory int64 `json:"available_memory" yaml:"available_memory"`

	// TotalMemory is the memory the process may ever use: the container
	// limit when one applies, otherwise the host's physical memory. Unlike
	// AvailableMemory it does not move between runs.
	TotalMemory int64 `json:"total_memory" yaml:"total_memory"`

	// MemorySource describes which probe produced AvailableMemory.
	MemorySource MemorySource `json:"memory_source" yaml:"memory_source"`

	// ThreadSpawnCost is the cost to start one goroutine worker.
	ThreadSpawnCost float64 `json:"thread_spawn_cost" yaml:"thread_spawn_cost"`

	// ProcessSpawnCost is the cost to start one worker process.
	ProcessSpawnCost float64 `json:"process_spawn_cost" yaml:"process_spawn_cost"`

	// ChunkSubmitOverhead is the fixed cost paid per submitted batch.
	ChunkSubmitOverhead float64 `json:"chunk_submit_overhead" yaml:"chunk_submit_overhead"`

	// ThreadSpawnFallback, ProcessSpawnFallback and ChunkOverheadFallback are
	// set when the corresponding measurement was too noisy and a platform
	// constant was used instead.
	ThreadSpawnFallback   bool `json:"thread_spawn_fallback,omitempty" yaml:"thread_spawn_fallback,omitempty"`
	ProcessSpawnFallback  bool `json:"process_spawn_fallback,omitempty" yaml:"process_spawn_fallback,omitempty"`
	ChunkOverheadFallback bool `json:"chunk_overhead_fallback,omitempty" yaml:"chunk_overhead_fallback,omitempty"`

	// Warnings collects notes produced while profiling.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// MeasuredAt is when the profile was computed.
	MeasuredAt time.Time `json:"measured_at" yaml:"measured_at"`
}

// SpawnCost returns the worker start-up cost for backend b. Serial has none.
func (p *SystemProfile) SpawnCost(b Backend) float64 {
	switch b {
	case BackendThreadPool:
		return p.ThreadSpawnCost
	case BackendProcessPool:
		return p.ProcessSpawnCost
	default:
		return 0
	}
}

// Fingerprint returns a stable hash identifying this class of machine:
// core counts, total memory rounded to the nearest GiB, and platform. Two
// runs on the same host produce the same fingerprint even though measured
// costs and free memory differ.
func (p *SystemProfile) Fingerprint() string {
	h := murmur3.New64()
	var buf [8]byte
	for _, v := range []uint64{
		uint64(p.PhysicalCores),
		uint64(p.LogicalCores),
		uint64((p.TotalMemory + GiB/2) / GiB),
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(runtime.GOOS + "/" + runtime.GOARCH))
	return fmt.Sprintf("%016x", h.Sum64())
}

// SerializationKind identifies what failed to serialize.
type SerializationKind string

// Serialization failure kinds.
const (
	SerializeJob    SerializationKind = "job"
	SerializeItem   SerializationKind = "item"
	SerializeResult SerializationKind = "result"
)

// SerializationFailure describes the first value that could not cross a
// process boundary.
type SerializationFailure struct {
	Kind SerializationKind `json:"kind" yaml:"kind"`

	// Index is the position of the offending item in the input, or -1 for
	// the job itself.
	Index int `json:"index" yaml:"index"`

	// ErrType is the Go type of the underlying error.
	ErrType string `json:"err_type" yaml:"err_type"`

	// Message is the underlying error text.
	Message string `json:"message" yaml:"message"`
}

// String formats the failure for warnings.
func (f *SerializationFailure) String() string {
	if f.Kind == SerializeJob {
		return fmt.Sprintf("job is not serializable: %s: %s", f.ErrType, f.Message)
	}
	return fmt.Sprintf("%s at index %d is not serializable: %s: %s", f.Kind, f.Index, f.ErrType, f.Message)
}

// SampleStats holds the measurements taken during a dry run. Times are in
// seconds, sizes in bytes.
type SampleStats struct {
	MeanItemTime           float64 `json:"mean_item_time" yaml:"mean_item_time"`
	Variance               float64 `json:"variance" yaml:"variance"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation" yaml:"coefficient_of_variation"`

	AvgInputSerializeTime  float64 `json:"avg_input_serialize_time" yaml:"avg_input_serialize_time"`
	AvgInputBytes          float64 `json:"avg_input_bytes" yaml:"avg_input_bytes"`
	AvgOutputSerializeTime float64 `json:"avg_output_serialize_time" yaml:"avg_output_serialize_time"`
	AvgOutputBytes         float64 `json:"avg_output_bytes" yaml:"avg_output_bytes"`

	// CPURatio is process CPU time over wall time while sampling. It can
	// exceed 1 when the job runs threads of its own.
	CPURatio float64      `json:"cpu_ratio" yaml:"cpu_ratio"`
	Workload WorkloadType `json:"workload" yaml:"workload"`

	// TotalItems is the input length, or -1 when unknown.
	TotalItems int `json:"total_items" yaml:"total_items"`

	// SampleCount is the number of items the job actually ran on.
	SampleCount int `json:"sample_count" yaml:"sample_count"`

	JobSerializable      bool                  `json:"job_serializable" yaml:"job_serializable"`
	ItemsSerializable    bool                  `json:"items_serializable" yaml:"items_serializable"`
	SerializationFailure *SerializationFailure `json:"serialization_failure,omitempty" yaml:"serialization_failure,omitempty"`

	// NestedParallelism names the first signal suggesting the job is
	// parallel internally. Empty when none was seen.
	NestedParallelism string `json:"nested_parallelism,omitempty" yaml:"nested_parallelism,omitempty"`

	// InternalThreads estimates how many threads one job invocation uses.
	InternalThreads int `json:"internal_threads,omitempty" yaml:"internal_threads,omitempty"`

	// Warnings collects notes produced while sampling.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Serializable reports whether both the job and every sampled value could
// be serialized.
func (s *SampleStats) Serializable() bool {
	return s.JobSerializable && s.ItemsSerializable
}

// KnownLength reports whether TotalItems is exact.
func (s *SampleStats) KnownLength() bool {
	return s.TotalItems >= 0
}

// Candidate is one evaluated (workers, chunk size) configuration.
type Candidate struct {
	Workers   int     `json:"workers" yaml:"workers"`
	ChunkSize int     `json:"chunk_size" yaml:"chunk_size"`
	Backend   Backend `json:"backend" yaml:"backend"`
	Predicted float64 `json:"predicted_seconds" yaml:"predicted_seconds"`
	Speedup   float64 `json:"speedup" yaml:"speedup"`
}

// Source records how a result was obtained.
type Source string

// Result sources.
const (
	SourceSampled   Source = "sampled"
	SourceCache     Source = "cache"
	SourcePredictor Source = "predictor"
)

// Diagnostics carries everything that went into a decision.
type Diagnostics struct {
	RunID   string `json:"run_id" yaml:"run_id"`
	Source  Source `json:"source" yaml:"source"`
	JobName string `json:"job_name,omitempty" yaml:"job_name,omitempty"`

	Profile *SystemProfile `json:"profile,omitempty" yaml:"profile,omitempty"`
	Stats   *SampleStats   `json:"stats,omitempty" yaml:"stats,omitempty"`

	// SerialSeconds is the predicted serial runtime.
	SerialSeconds float64 `json:"serial_seconds" yaml:"serial_seconds"`

	// MaxWorkers is the upper bound of the evaluated worker range.
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`

	Candidates []Candidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// BestParallelSpeedup is the best non-serial speedup seen, even when
	// it lost to serial.
	BestParallelSpeedup float64 `json:"best_parallel_speedup" yaml:"best_parallel_speedup"`

	// BaselineChunkSize is the chunk size before adaptive adjustment.
	BaselineChunkSize int  `json:"baseline_chunk_size" yaml:"baseline_chunk_size"`
	AdaptiveChunking  bool `json:"adaptive_chunking" yaml:"adaptive_chunking"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Result is the decision handed to an execution backend.
type Result struct {
	Workers   int     `json:"workers" yaml:"workers"`
	ChunkSize int     `json:"chunk_size" yaml:"chunk_size"`
	Backend   Backend `json:"backend" yaml:"backend"`

	// EstimatedSpeedup is predicted serial time over predicted parallel
	// time. It is never clamped and may be below 1.
	EstimatedSpeedup float64 `json:"estimated_speedup" yaml:"estimated_speedup"`

	Reason   string   `json:"reason" yaml:"reason"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	Diagnostics *Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// IsSerial reports whether the result asks for serial execution.
func (r *Result) IsSerial() bool {
	return r.Backend == BackendSerial || r.Workers <= 1
}

// JobFeatures describes a job invocation for history lookups.
type JobFeatures struct {
	JobName     string       `json:"job_name" yaml:"job_name"`
	TotalItems  int          `json:"total_items" yaml:"total_items"`
	SizeBucket  int          `json:"size_bucket" yaml:"size_bucket"`
	Fingerprint string       `json:"fingerprint" yaml:"fingerprint"`
	Workload    WorkloadType `json:"workload,omitempty" yaml:"workload,omitempty"`
}

// Prediction is a configuration suggested from past runs.
type Prediction struct {
	Workers    int     `json:"workers" yaml:"workers"`
	ChunkSize  int     `json:"chunk_size" yaml:"chunk_size"`
	Backend    Backend `json:"backend" yaml:"backend"`
	Speedup    float64 `json:"speedup" yaml:"speedup"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Samples    int     `json:"samples" yaml:"samples"`
}

// SizeBucket groups input lengths by power of two so that runs over
// similar amounts of data share cache entries. Unknown lengths map to -1.
func SizeBucket(n int) int {
	if n < 0 {
		return -1
	}
	if n == 0 {
		return 0
	}
	return int(math.Floor(math.Log2(float64(n)))) + 1
}

// Seconds converts a duration to float seconds.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Duration converts float seconds to a duration.
func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
