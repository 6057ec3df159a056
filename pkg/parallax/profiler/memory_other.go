//go:build !linux && !darwin

package profiler

func platformMemory() (memoryStat, bool) {
	return memoryStat{}, false
}
