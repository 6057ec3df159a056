// Package output provides formatters for displaying parallax decisions,
// system profiles, cache statistics and history in various output formats
// (pretty, plain, json, yaml).
//
// The package uses a registry pattern to allow registration of multiple
// formatter implementations that can be selected at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, &output.Report{Plan: result}); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// Report holds the data for one command's output. Formatters render every
// section that is set, in field order.
type Report struct {
	// Plan is an optimization decision.
	Plan *types.Result `json:"plan,omitempty" yaml:"plan,omitempty"`

	// Profile is a system profile.
	Profile *types.SystemProfile `json:"profile,omitempty" yaml:"profile,omitempty"`

	// Cache is a cache statistics snapshot.
	Cache *cache.Stats `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Record is a single history record shown in detail.
	Record *history.Record `json:"record,omitempty" yaml:"record,omitempty"`

	// Records is a history listing, newest first.
	Records []history.Record `json:"records,omitempty" yaml:"records,omitempty"`
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	// It returns an error if formatting fails.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
// It returns an error if the formatter is not found.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// shortID trims a record ID for tables.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// planSummary describes a plan in one line, e.g. "4 x process_pool, chunk 25".
func planSummary(workers, chunk int, backend types.Backend) string {
	if backend == types.BackendSerial || workers <= 1 {
		return "serial"
	}
	return fmt.Sprintf("%d x %s, chunk %d", workers, backend, chunk)
}

// speedup formats a speedup factor.
func speedup(s float64) string {
	return fmt.Sprintf("%.2fx", s)
}
