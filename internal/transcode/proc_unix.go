//go:build unix

package transcode

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the whole process group.
func terminateProcess(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

func killProcess(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
