//go:build linux

package coro

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// bindWorker names the calling OS thread and pins it to the given cpu.
// Must run on the worker's locked thread.
func bindWorker(name string, cpu int) error {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0); err != nil {
		return err
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
