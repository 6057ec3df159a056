//go:build darwin

package profiler

import "golang.org/x/sys/unix"

// platformPhysicalCores asks the kernel via sysctl hw.physicalcpu.
func platformPhysicalCores(string) int {
	n, err := unix.SysctlUint32("hw.physicalcpu")
	if err != nil {
		return 0
	}
	return int(n)
}
