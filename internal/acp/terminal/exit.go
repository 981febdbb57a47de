package terminal

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus describes how a terminal process ended. Exactly one field is
// set once the process has exited; both are nil while it runs.
type ExitStatus struct {
	ExitCode *int
	Signal   *string
}

// exitStatusFor translates a POSIX-style return code. Negative values -N
// mean the process was terminated by signal N.
func exitStatusFor(returnCode *int) ExitStatus {
	if returnCode == nil {
		return ExitStatus{}
	}
	rc := *returnCode
	if rc >= 0 {
		return ExitStatus{ExitCode: &rc}
	}
	name := signalName(-rc)
	return ExitStatus{Signal: &name}
}

func signalName(n int) string {
	if name := unix.SignalName(syscall.Signal(n)); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", n)
}

// returnCode maps a finished process state onto the POSIX return code
// convention: exit status, or -signal when killed by a signal.
func returnCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	rc := state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		rc = -int(ws.Signal())
	}
	return &rc
}
