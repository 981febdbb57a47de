//go:build unix

// Package procgroup starts child processes in their own process group and
// signals the whole group, so grandchildren die with their parent.
package procgroup

import (
	"os"

	"golang.org/x/sys/unix"
)

// Kill sends SIGKILL to the process group led by pid.
func Kill(pid int) error {
	return Signal(pid, unix.SIGKILL)
}

// Signal sends sig to the process group led by pid.
func Signal(pid int, sig unix.Signal) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return err
	}
	return unix.Kill(-pgid, sig)
}

// KillProcess kills the group, falling back to the single process when the
// group cannot be signalled.
func KillProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := Kill(p.Pid); err == nil {
		return nil
	}
	return p.Kill()
}
