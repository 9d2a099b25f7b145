//go:build unix

package workdir

import (
	"os"
	"os/signal"
	"syscall"
)

var cleanupSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
}

// raise re-delivers sig to the process with its default disposition,
// so the parent observes the real termination cause.
func raise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		os.Exit(1)
	}
	signal.Reset(sig)
	_ = syscall.Kill(syscall.Getpid(), s)
	// Reached only if the default disposition did not terminate the process.
	os.Exit(128 + int(s))
}
