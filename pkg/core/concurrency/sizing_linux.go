//go:build linux

package concurrency

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// availableProcessors counts the CPUs in the process affinity mask, which
// can be narrower than the machine (taskset, cpusets).
func availableProcessors() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	return set.Count()
}
