// Package job provides the named job registry. A job that is registered
// under a stable name can be addressed from another process running the
// same binary, which is what the process_pool backend requires. Jobs built
// with Local run fine in-process but cannot cross a process boundary.
//
// Jobs are typically registered in package-level variables so that every
// process registers them in the same order with the same names:
//
//	var resize = job.Register("images.resize", func(ctx context.Context, p string) (int, error) {
//	    ...
//	})
package job

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when a job is looked up by a name that was
// never registered, or when an anonymous job is asked for its name.
var ErrNotRegistered = errors.New("job not registered")

// Func is the signature of a job applied to a single item.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Job is a function over items of type T, optionally addressable by name.
type Job[T, R any] struct {
	name string
	fn   Func[T, R]
}

// invoker runs a registered job on a gob-encoded item.
type invoker interface {
	invoke(ctx context.Context, payload []byte) ([]byte, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]invoker)
)

// Register records fn under name and returns the job. Register panics when
// name is empty or already taken, mirroring how duplicate registrations
// would silently break cross-process lookups.
func Register[T, R any](name string, fn Func[T, R]) *Job[T, R] {
	if name == "" {
		panic("job: Register called with empty name")
	}
	if fn == nil {
		panic("job: Register called with nil func for " + name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic("job: duplicate registration of " + name)
	}

	j := &Job[T, R]{name: name, fn: fn}
	registry[name] = j
	return j
}

// Local wraps fn as an unregistered job. It can be sampled and run by the
// serial and thread_pool backends, but is never serializable.
func Local[T, R any](fn Func[T, R]) *Job[T, R] {
	return &Job[T, R]{fn: fn}
}

// Name returns the registered name, or "" for local jobs.
func (j *Job[T, R]) Name() string {
	return j.name
}

// Registered reports whether the job is addressable by name from another
// process.
func (j *Job[T, R]) Registered() bool {
	if j.name == "" {
		return false
	}
	mu.RLock()
	defer mu.RUnlock()
	inv, ok := registry[j.name]
	return ok && inv == invoker(j)
}

// Check returns nil when the job can be addressed by name, and an error
// wrapping ErrNotRegistered otherwise.
func (j *Job[T, R]) Check() error {
	if j.name == "" {
		return fmt.Errorf("%w: anonymous job", ErrNotRegistered)
	}
	if !j.Registered() {
		return fmt.Errorf("%w: %s", ErrNotRegistered, j.name)
	}
	return nil
}

// Call applies the job to item.
func (j *Job[T, R]) Call(ctx context.Context, item T) (R, error) {
	return j.fn(ctx, item)
}

func (j *Job[T, R]) invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var item T
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding item for %s: %w", j.name, err)
	}
	out, err := j.fn(ctx, item)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&out); err != nil {
		return nil, fmt.Errorf("encoding result of %s: %w", j.name, err)
	}
	return buf.Bytes(), nil
}

// Invoke runs the job registered as name on a gob-encoded item and returns
// the gob-encoded result. This is the entry point a worker process uses.
func Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	mu.RLock()
	inv, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return inv.invoke(ctx, payload)
}

// Lookup reports whether a job is registered under name.
func Lookup(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Names returns all registered job names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
