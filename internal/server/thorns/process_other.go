//go:build !unix

package thorns

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

const sigKill = syscall.SIGKILL

func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup can only kill outright on this platform.
func signalGroup(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	if sig != sigKill {
		return errors.New("only SIGKILL is supported on this platform")
	}
	return proc.Kill()
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

func lookupSignal(name string) (syscall.Signal, bool) {
	switch strings.TrimPrefix(strings.ToUpper(name), "SIG") {
	case "INT":
		return syscall.SIGINT, true
	case "TERM":
		return syscall.SIGTERM, true
	case "KILL":
		return syscall.SIGKILL, true
	}
	return 0, false
}
