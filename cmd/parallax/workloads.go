package main

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/jamesainslie/parallax/pkg/parallax/job"
)

// workItem is one unit of synthetic work. It carries its own timings so
// that a worker process can run it without sharing state with the parent.
type workItem struct {
	Index   int
	Compute time.Duration
	Wait    time.Duration
	Payload []byte
}

// workResult is what the synthetic job returns for an item.
type workResult struct {
	Index    int
	Checksum uint64
	Payload  []byte
}

// workloadSpec describes a synthetic job.
type workloadSpec struct {
	Items    int
	ItemTime time.Duration

	// Jitter spreads item times uniformly by up to this fraction of ItemTime.
	Jitter float64

	// IOFraction is the share of each item spent waiting instead of computing.
	IOFraction float64

	// Payload is the size of each item's and result's payload in bytes.
	Payload int

	Seed uint64
}

func (s workloadSpec) validate() error {
	switch {
	case s.Items < 0:
		return fmt.Errorf("items must not be negative, got %d", s.Items)
	case s.ItemTime < 0:
		return fmt.Errorf("item time must not be negative, got %s", s.ItemTime)
	case s.Jitter < 0 || s.Jitter > 1:
		return fmt.Errorf("jitter must be between 0 and 1, got %g", s.Jitter)
	case s.IOFraction < 0 || s.IOFraction > 1:
		return fmt.Errorf("io fraction must be between 0 and 1, got %g", s.IOFraction)
	case s.Payload < 0:
		return fmt.Errorf("payload must not be negative, got %d", s.Payload)
	}
	return nil
}

// item builds the i-th item. The same seed always yields the same items.
func (s workloadSpec) item(i int, rng *rand.Rand) workItem {
	d := float64(s.ItemTime)
	if s.Jitter > 0 {
		d *= 1 + s.Jitter*(2*rng.Float64()-1)
	}
	total := time.Duration(max(d, 0))
	wait := time.Duration(float64(total) * s.IOFraction)

	payload := make([]byte, s.Payload)
	for j := range payload {
		payload[j] = byte(rng.UintN(256))
	}
	return workItem{Index: i, Compute: total - wait, Wait: wait, Payload: payload}
}

// all yields every item of the workload.
func (s workloadSpec) all() iter.Seq[workItem] {
	return func(yield func(workItem) bool) {
		rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
		for i := range s.Items {
			if !yield(s.item(i, rng)) {
				return
			}
		}
	}
}

// runWorkItem burns CPU for the item's compute time, hashing its payload,
// then waits for the rest.
func runWorkItem(ctx context.Context, it workItem) (workResult, error) {
	var sum uint64
	deadline := time.Now().Add(it.Compute)
	for {
		sum = murmur3.Sum64WithSeed(it.Payload, uint32(sum))
		if !time.Now().Before(deadline) {
			break
		}
	}

	if it.Wait > 0 {
		timer := time.NewTimer(it.Wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return workResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	return workResult{Index: it.Index, Checksum: sum, Payload: it.Payload}, nil
}

var (
	syntheticMu   sync.Mutex
	syntheticJobs = make(map[string]*job.Job[workItem, workResult])
)

// syntheticJob returns the synthetic job registered under name, registering
// it on first use. Local jobs are not registered and cannot be sent to
// worker processes. A name already taken by another job is an error.
func syntheticJob(name string, local bool) (*job.Job[workItem, workResult], error) {
	if local {
		return job.Local(runWorkItem), nil
	}

	syntheticMu.Lock()
	defer syntheticMu.Unlock()
	if j, ok := syntheticJobs[name]; ok {
		return j, nil
	}
	if job.Lookup(name) {
		return nil, fmt.Errorf("job name %q is already registered by another job", name)
	}
	j := job.Register(name, runWorkItem)
	syntheticJobs[name] = j
	return j, nil
}
