package profiler

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

// countPhysical is replaced in tests.
var countPhysical = func() (int, error) {
	return cpu.Counts(false)
}

type coreInfo struct {
	physical int
	logical  int
	source   string
	warnings []string
}

// detectCores tries gopsutil, then platform topology, then half the
// logical count, then 1. The result never exceeds the schedulable
// logical count.
func detectCores(root string) coreInfo {
	info := coreInfo{logical: runtime.NumCPU()}

	if procs := runtime.GOMAXPROCS(0); procs < info.logical {
		info.warnings = append(info.warnings,
			fmt.Sprintf("GOMAXPROCS=%d limits usable cores below the %d reported by the OS", procs, info.logical))
		info.logical = procs
	}
	if info.logical < 1 {
		info.logical = 1
	}

	switch n, err := countPhysical(); {
	case err == nil && n > 0:
		info.physical, info.source = n, "gopsutil"
	default:
		if err != nil {
			logger.Debug("gopsutil physical core count failed", "error", err)
		}
		if n := platformPhysicalCores(root); n > 0 {
			info.physical, info.source = n, "topology"
		} else if half := info.logical / 2; half >= 1 {
			info.physical, info.source = half, "logical/2"
			info.warnings = append(info.warnings, "physical core count unavailable; assuming half the logical cores")
		} else {
			info.physical, info.source = 1, "default"
			info.warnings = append(info.warnings, "physical core count unavailable; assuming 1")
		}
	}

	if info.physical > info.logical {
		info.physical = info.logical
	}
	return info
}

// parseCPUInfo counts distinct (physical id, core id) pairs in a
// /proc/cpuinfo listing. It returns 0 when the listing carries no topology,
// as on many ARM kernels.
func parseCPUInfo(r io.Reader) int {
	seen := make(map[string]struct{})
	var physID, coreID string

	flush := func() {
		if coreID != "" {
			seen[physID+"/"+coreID] = struct{}{}
		}
		physID, coreID = "", ""
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "physical id":
			physID = strings.TrimSpace(value)
		case "core id":
			coreID = strings.TrimSpace(value)
		}
	}
	flush()

	return len(seen)
}
