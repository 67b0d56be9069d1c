package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the backend in its own process group. Pdeathsig
// makes the kernel SIGTERM the child if the host dies without stopping it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
