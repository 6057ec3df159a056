package sampler

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDetectNested(t *testing.T) {
	none := envOf(nil)
	tests := []struct {
		name    string
		in      nestedInput
		found   bool
		threads int
		prefix  string
	}{
		{
			name:  "quiet",
			in:    nestedInput{cpuRatio: 0.9, cpuKnown: true, nestedRatio: 1.5, getenv: none},
			found: false,
		},
		{
			name:    "cpu ratio",
			in:      nestedInput{cpuRatio: 3.2, cpuKnown: true, nestedRatio: 1.5, getenv: none},
			found:   true,
			threads: 4,
			prefix:  "cpu time",
		},
		{
			name:  "cpu ratio ignored when clock unknown",
			in:    nestedInput{cpuRatio: 3.2, cpuKnown: false, nestedRatio: 1.5, getenv: none},
			found: false,
		},
		{
			name:    "busy goroutines",
			in:      nestedInput{cpuRatio: 1.3, cpuKnown: true, goroutineDelta: 5, nestedRatio: 1.5, getenv: none},
			found:   true,
			threads: 2,
			prefix:  "job left 5 busy goroutines",
		},
		{
			name:  "idle goroutines",
			in:    nestedInput{cpuRatio: 0.05, cpuKnown: true, goroutineDelta: 3, nestedRatio: 1.5, getenv: none},
			found: false,
		},
		{
			name:  "goroutines without cpu clock",
			in:    nestedInput{goroutineDelta: 5, nestedRatio: 1.5, getenv: none},
			found: false,
		},
		{
			name:  "single goroutine is noise",
			in:    nestedInput{cpuRatio: 1.3, cpuKnown: true, goroutineDelta: 1, nestedRatio: 1.5, getenv: none},
			found: false,
		},
		{
			name: "parallel module",
			in: nestedInput{
				nestedRatio: 1.5,
				getenv:      envOf(map[string]string{"OMP_NUM_THREADS": "6"}),
				deps:        []*debug.Module{{Path: "github.com/panjf2000/ants/v2"}},
			},
			found:   true,
			threads: 6,
			prefix:  "module github.com/panjf2000/ants",
		},
		{
			name: "replaced module",
			in: nestedInput{
				nestedRatio: 1.5,
				getenv:      envOf(map[string]string{"MKL_NUM_THREADS": "3"}),
				deps: []*debug.Module{{
					Path:    "example.com/fork",
					Replace: &debug.Module{Path: "github.com/sourcegraph/conc"},
				}},
			},
			found:   true,
			threads: 3,
			prefix:  "module github.com/sourcegraph/conc",
		},
		{
			name: "own modules are ignored",
			in: nestedInput{
				nestedRatio: 1.5,
				getenv:      none,
				deps:        []*debug.Module{{Path: "golang.org/x/sync"}},
			},
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, found := detectNested(tt.in)
			assert.Equal(t, tt.found, found)
			if !tt.found {
				return
			}
			assert.Equal(t, tt.threads, sig.threads)
			assert.Contains(t, sig.name, tt.prefix)
		})
	}
}

func TestEnvThreads(t *testing.T) {
	assert.Equal(t, runtime.GOMAXPROCS(0), envThreads(envOf(nil)))
	assert.Equal(t, runtime.GOMAXPROCS(0), envThreads(envOf(map[string]string{"OMP_NUM_THREADS": "zero"})))
	assert.Equal(t, 8, envThreads(envOf(map[string]string{
		"OMP_NUM_THREADS":      "2",
		"OPENBLAS_NUM_THREADS": " 8 ",
	})))
}
