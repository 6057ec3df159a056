//go:build linux

package profiler

import (
	"os"
	"path/filepath"
)

// platformPhysicalCores reads the core topology from /proc/cpuinfo.
func platformPhysicalCores(root string) int {
	f, err := os.Open(filepath.Join(root, "proc", "cpuinfo"))
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseCPUInfo(f)
}
