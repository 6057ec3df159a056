//go:build linux

package profiler

import "golang.org/x/sys/unix"

// platformMemory reports free plus buffer memory and total RAM from
// sysinfo(2).
func platformMemory() (memoryStat, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return memoryStat{}, false
	}
	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return memoryStat{
		available: (int64(info.Freeram) + int64(info.Bufferram)) * unit,
		total:     int64(info.Totalram) * unit,
	}, true
}
