//go:build linux

package server

import (
	"os"
	"os/exec"
	"syscall"
)

// setPlatformProcessAttrs puts the server in its own process group so that
// signals aimed at the bridge (Ctrl+C) do not reach it. Stdout and Stderr
// stay nil, which os/exec connects to the null device.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// interruptPlatform asks the server to shut down cleanly; it saves on SIGINT.
func interruptPlatform(cmd *exec.Cmd) error {
	return cmd.Process.Signal(os.Interrupt)
}
