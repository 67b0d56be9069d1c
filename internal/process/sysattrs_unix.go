//go:build !windows && !linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the backend in its own process group so the
// whole tree can be signalled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
