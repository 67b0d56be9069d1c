//go:build windows

package process

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// Windows has no SIGTERM for console-less children; both paths terminate.
func terminate(pid int) error { return killProcess(pid) }

func forceKill(pid int) error { return killProcess(pid) }

func killProcess(pid int) error {
	if pid <= 0 {
		return ErrNotFound
	}
	h, _, err := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(pid)))
	if h == 0 {
		// OpenProcess fails once the process is gone.
		_ = err
		return ErrNotFound
	}
	defer procCloseHandle.Call(h)
	if ret, _, err := procTerminateProcess.Call(h, uintptr(1)); ret == 0 {
		return err
	}
	return nil
}
