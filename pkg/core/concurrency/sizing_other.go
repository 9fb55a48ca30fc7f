//go:build !linux

package concurrency

import "runtime"

func availableProcessors() int {
	return runtime.NumCPU()
}
