//go:build !unix

package gateway

import "os/exec"

// setProcessGroup is a no-op here; exec.CommandContext kills the shell itself.
func setProcessGroup(cmd *exec.Cmd) {}
