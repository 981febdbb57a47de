//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestKillTakesDownGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid)

	require.NoError(t, Kill(cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
}

func TestKillProcessNil(t *testing.T) {
	assert.NoError(t, KillProcess(nil))
}
