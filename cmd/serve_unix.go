//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs puts the spawned server in its own session so it survives
// the parent's terminal going away.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// shutdownSignals lists the signals that trigger graceful shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigTERM is the polite stop signal for this platform.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the forced stop signal for this platform.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
