//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

var terminateSignal os.Signal = os.Interrupt

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	if sig == os.Kill {
		return p.Kill()
	}
	return p.Signal(sig)
}
