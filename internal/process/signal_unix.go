//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// terminate asks the backend's process group to exit.
func terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

// forceKill kills the backend's process group.
func forceKill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// signalGroup signals the group led by pid, falling back to the pid alone
// when the group is already gone. ESRCH maps to ErrNotFound.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNotFound
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return ErrNotFound
	}
	return err
}
