//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs is a no-op on Windows, which has no session concept.
func setDaemonAttrs(_ *exec.Cmd) {}

// shutdownSignals lists the signals that trigger graceful shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigTERM is the polite stop signal; delivery is best-effort on Windows.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the forced stop signal.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
