//go:build !linux

package server

import (
	"os/exec"
)

func setPlatformProcessAttrs(cmd *exec.Cmd) {}

// interruptPlatform has no portable graceful signal outside Linux, so the
// process is killed outright.
func interruptPlatform(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
