//go:build windows

package processing

import "os/exec"

// setupProcessGroup is a no-op on Windows; job objects would be needed
// for true process-tree control, which is out of scope here.
func setupProcessGroup(cmd *exec.Cmd) {}

// terminateProcessGroup has no graceful equivalent to SIGTERM available
// through os/exec on Windows, so it kills outright.
func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
