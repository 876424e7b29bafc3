//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminate asks the child's process group to exit.
func terminate(p *os.Process) error { return signalGroup(p, syscall.SIGTERM) }

// kill forcibly ends the child's process group.
func kill(p *os.Process) error { return signalGroup(p, syscall.SIGKILL) }

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// Group gone or not ours: fall back to the leader alone.
	if perr := p.Signal(sig); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		return perr
	}
	return nil
}
