package sampler

import (
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

// parallelModules are modules that run work on their own goroutine or
// thread pools. Linking one suggests the job may already use every core.
var parallelModules = []string{
	"gonum.org/v1/netlib",
	"gorgonia.org/gorgonia",
	"github.com/apache/arrow/go",
	"github.com/apache/arrow-go",
	"github.com/klauspost/pgzip",
	"github.com/panjf2000/ants",
	"github.com/alitto/pond",
	"github.com/sourcegraph/conc",
	"golang.org/x/sync",
}

// ownModules are linked by parallax itself and must not be blamed on the
// user's job.
var ownModules = map[string]bool{
	"golang.org/x/sync": true,
}

// threadEnvVars size the thread pools of native numeric libraries.
var threadEnvVars = []string{
	"OMP_NUM_THREADS",
	"OPENBLAS_NUM_THREADS",
	"MKL_NUM_THREADS",
	"VECLIB_MAXIMUM_THREADS",
	"NUMEXPR_NUM_THREADS",
}

// nestedInput gathers what the sampler observed.
type nestedInput struct {
	cpuRatio       float64
	cpuKnown       bool
	nestedRatio    float64
	goroutineDelta int
	getenv         func(string) string
	deps           []*debug.Module
}

type nestedSignal struct {
	name    string
	threads int
}

// detectNested returns the first signal that the job parallelizes
// internally, checked from most to least direct evidence.
func detectNested(in nestedInput) (nestedSignal, bool) {
	if in.cpuKnown && in.cpuRatio > in.nestedRatio {
		return nestedSignal{
			name:    fmt.Sprintf("cpu time %.1fx wall time", in.cpuRatio),
			threads: int(math.Ceil(in.cpuRatio)),
		}, true
	}

	// Idle leftovers such as keep-alive connection loops are not parallel
	// work; the goroutines only count once the CPU clock shows more than
	// one core busy.
	if in.goroutineDelta >= 2 && in.cpuKnown && in.cpuRatio > 1 {
		return nestedSignal{
			name:    fmt.Sprintf("job left %d busy goroutines running", in.goroutineDelta),
			threads: min(in.goroutineDelta, int(math.Ceil(in.cpuRatio))),
		}, true
	}

	for _, dep := range in.deps {
		path := dep.Path
		if dep.Replace != nil {
			path = dep.Replace.Path
		}
		for _, mod := range parallelModules {
			if ownModules[mod] || !strings.HasPrefix(path, mod) {
				continue
			}
			return nestedSignal{
				name:    "module " + mod,
				threads: envThreads(in.getenv),
			}, true
		}
	}

	return nestedSignal{}, false
}

// envThreads returns the largest thread count configured for native
// libraries, or GOMAXPROCS when none is set.
func envThreads(getenv func(string) string) int {
	best := 0
	for _, name := range threadEnvVars {
		if n, err := strconv.Atoi(strings.TrimSpace(getenv(name))); err == nil && n > best {
			best = n
		}
	}
	if best == 0 {
		best = runtime.GOMAXPROCS(0)
	}
	return max(best, 1)
}

// linkedModules returns the dependency list of the running binary.
func linkedModules() []*debug.Module {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info.Deps
}
