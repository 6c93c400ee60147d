//go:build !windows

package process

import "syscall"

// terminateGroup sends SIGTERM to the child's process group.
func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killGroup sends SIGKILL to the child's process group.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// dumpSignal asks a JVM-style child for a thread dump.
func dumpSignal(pid int) error {
	return syscall.Kill(pid, syscall.SIGQUIT)
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
