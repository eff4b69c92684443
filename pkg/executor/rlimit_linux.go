//go:build linux

package executor

import (
	"golang.org/x/sys/unix"
)

// applyRlimits bounds CPU time and address space of an already started child.
// The child may have run briefly without limits; scripts this short cannot do
// meaningful damage in that window and the wall-clock timeout still applies.
func applyRlimits(pid int, limits Limits) error {
	if limits.CPUSeconds > 0 {
		cpu := &unix.Rlimit{
			Cur: uint64(limits.CPUSeconds),
			Max: uint64(limits.CPUSeconds),
		}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, cpu, nil); err != nil {
			return err
		}
	}
	if limits.MemoryMB > 0 {
		mem := &unix.Rlimit{
			Cur: uint64(limits.MemoryMB) * 1024 * 1024,
			Max: uint64(limits.MemoryMB) * 1024 * 1024,
		}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, mem, nil); err != nil {
			return err
		}
	}
	return nil
}
