//go:build darwin

package profiler

import "golang.org/x/sys/unix"

// platformMemory estimates available memory as half of hw.memsize.
// Precise figures need host_statistics; macOS keeps most free memory in
// the file cache anyway.
func platformMemory() (memoryStat, bool) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return memoryStat{}, false
	}
	return memoryStat{available: int64(total / 2), total: int64(total)}, true
}
