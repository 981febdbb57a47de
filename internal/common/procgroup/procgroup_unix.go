//go:build unix && !linux

package procgroup

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// Set runs cmd in its own process group. Without Pdeathsig, orphan cleanup
// relies on callers releasing their processes.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}
