//go:build linux

package shard

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCPU binds the calling OS thread to a single CPU so its shard's
// goroutine never migrates mid-run (cache locality for the per-shard
// ring and connection table). cpu < 0 skips pinning.
func pinCPU(cpu int) error {
	if cpu < 0 {
		return nil
	}
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
