//go:build windows

package workdir

import (
	"os"
	"syscall"
)

var cleanupSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
}

// raise exits with the conventional 128+signal status. Windows has no way
// to re-deliver a signal with default disposition.
func raise(sig os.Signal) {
	if s, ok := sig.(syscall.Signal); ok {
		os.Exit(128 + int(s))
	}
	os.Exit(1)
}
