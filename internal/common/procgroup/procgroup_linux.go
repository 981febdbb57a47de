//go:build linux

package procgroup

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// Set runs cmd in its own process group. Pdeathsig makes the kernel signal
// the group leader if this process dies first.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
}
