//go:build unix

package gateway

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the shell in its own process group so that a
// cancellation kills the shell and everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
