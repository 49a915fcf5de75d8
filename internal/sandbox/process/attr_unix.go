//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// applyPlatformAttr puts the child in its own process group so a timeout
// kill (or interrupt) can be propagated to the whole subtree.
func applyPlatformAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
