//go:build !linux

package executor

// Per-process CPU and memory limits need prlimit; on other platforms only
// the wall-clock timeout applies.
func applyRlimits(pid int, limits Limits) error {
	return nil
}
