//go:build !linux && !darwin

package profiler

func platformPhysicalCores(string) int {
	return 0
}
