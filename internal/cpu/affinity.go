package cpu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RestrictTo pins the calling thread to the given CPU.
//
// The affinity mask belongs to the OS thread, so the calling goroutine
// must be locked to its thread (runtime.LockOSThread) for this to last.
func RestrictTo(cpu int) error {
	var set unix.CPUSet

	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("couldn't set the CPU affinity mask (cpu %d): %w", cpu, err)
	}

	return nil
}

// Online returns the list of CPUs the calling thread is allowed to run on.
func Online() ([]int, error) {
	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("couldn't get the CPU affinity mask: %w", err)
	}

	cpus := make([]int, 0, set.Count())

	for i := 0; len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}

	return cpus, nil
}
