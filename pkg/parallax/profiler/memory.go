package profiler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// defaultTotalRAM is assumed when no probe works. Half of it is reported
// as available.
const defaultTotalRAM = 8 * types.GiB

// cgroupV1Unlimited is the threshold above which a v1 limit means "none".
// The kernel reports unlimited as a page-aligned value near 2^63.
const cgroupV1Unlimited = int64(1) << 62

// memoryStat is a probe's view of memory: what is free now and the
// ceiling it is free out of.
type memoryStat struct {
	available int64
	total     int64
}

// hostMemory reports the host's available and physical memory: gopsutil
// first, then a platform syscall. It is replaced in tests.
var hostMemory = func() (memoryStat, bool) {
	vm, err := mem.VirtualMemory()
	if err == nil && vm.Available > 0 {
		return memoryStat{available: int64(vm.Available), total: int64(vm.Total)}, true
	}
	if err != nil {
		logger.Debug("gopsutil memory probe failed", "error", err)
	}
	return platformMemory()
}

type memoryInfo struct {
	memoryStat
	source   types.MemorySource
	warnings []string
}

// detectMemory prefers a container limit when one is set and smaller than
// what the host reports.
func detectMemory(root string) memoryInfo {
	host, hostOK := hostMemory()
	hostOK = hostOK && host.available > 0
	if hostOK && host.total < host.available {
		host.total = host.available
	}

	for _, probe := range []struct {
		source types.MemorySource
		fn     func(string) (memoryStat, bool)
	}{
		{types.MemoryCgroupV2, cgroupV2Memory},
		{types.MemoryCgroupV1, cgroupV1Memory},
	} {
		if st, ok := probe.fn(root); ok && (!hostOK || st.available < host.available) {
			if hostOK {
				st.total = min(st.total, host.total)
			}
			return memoryInfo{memoryStat: st, source: probe.source}
		}
	}

	if hostOK {
		return memoryInfo{memoryStat: host, source: types.MemoryHost}
	}

	return memoryInfo{
		memoryStat: memoryStat{available: defaultTotalRAM / 2, total: defaultTotalRAM},
		source:     types.MemoryFallback,
		warnings: []string{fmt.Sprintf("available memory unknown; assuming %s",
			types.FormatSize(defaultTotalRAM/2))},
	}
}

// cgroupPath returns the cgroup path of the current process for the given
// controller ("" selects the v2 unified hierarchy).
func cgroupPath(root, controller string) (string, bool) {
	f, err := os.Open(filepath.Join(root, "proc", "self", "cgroup"))
	if err != nil {
		return "", false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// hierarchy-ID:controller-list:path
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if controller == "" {
			if parts[0] == "0" && parts[1] == "" {
				return parts[2], true
			}
			continue
		}
		for _, c := range strings.Split(parts[1], ",") {
			if c == controller {
				return parts[2], true
			}
		}
	}
	return "", false
}

// readCgroupFile looks for name in the process's own cgroup directory
// first, then at the mount root, which is what a container sees when its
// cgroup namespace hides the host path.
func readCgroupFile(base, rel, name string) (string, bool) {
	candidates := []string{filepath.Join(base, rel, name), filepath.Join(base, name)}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data)), true
		}
	}
	return "", false
}

func cgroupV2Memory(root string) (memoryStat, bool) {
	rel, ok := cgroupPath(root, "")
	if !ok {
		return memoryStat{}, false
	}
	base := filepath.Join(root, "sys", "fs", "cgroup")

	raw, ok := readCgroupFile(base, rel, "memory.max")
	if !ok || raw == "max" {
		return memoryStat{}, false
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		return memoryStat{}, false
	}

	var usage int64
	if raw, ok := readCgroupFile(base, rel, "memory.current"); ok {
		usage, _ = strconv.ParseInt(raw, 10, 64)
	}
	return memoryStat{available: max(limit-usage, 0), total: limit}, true
}

func cgroupV1Memory(root string) (memoryStat, bool) {
	rel, ok := cgroupPath(root, "memory")
	if !ok {
		return memoryStat{}, false
	}
	base := filepath.Join(root, "sys", "fs", "cgroup", "memory")

	raw, ok := readCgroupFile(base, rel, "memory.limit_in_bytes")
	if !ok {
		return memoryStat{}, false
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 || limit >= cgroupV1Unlimited {
		return memoryStat{}, false
	}

	var usage int64
	if raw, ok := readCgroupFile(base, rel, "memory.usage_in_bytes"); ok {
		usage, _ = strconv.ParseInt(raw, 10, 64)
	}
	return memoryStat{available: max(limit-usage, 0), total: limit}, true
}
