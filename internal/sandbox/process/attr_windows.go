//go:build windows

package process

import "os/exec"

// applyPlatformAttr is a no-op on Windows: job-object based isolation is
// set up by the caller once a sandbox-user token is selected, not here.
func applyPlatformAttr(cmd *exec.Cmd) {}
