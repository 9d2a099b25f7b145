package workdir

import (
	"os"
	"os/signal"
	"sync"
)

// NotifyCleanup runs fn when the process receives a catchable termination
// signal, then re-raises the signal with its default disposition.
//
// Cleanup on signals is inherently best-effort: SIGKILL-class termination
// cannot be intercepted on any platform, and the process may die between
// signal delivery and fn completing. Callers must not rely on fn having
// run after abnormal termination.
//
// The returned disarm function unregisters the handler; it is safe to call
// more than once. The handler also disarms itself after the first signal,
// so fn runs at most once.
func NotifyCleanup(fn func()) (disarm func()) {
	return notifyCleanup(fn, raise)
}

// notifyCleanup separates the re-raise so tests can intercept it instead
// of terminating the test process.
func notifyCleanup(fn func(), reraise func(os.Signal)) (disarm func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, cleanupSignals...)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		signal.Stop(ch)
		fn()
		reraise(sig)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(ch)
		})
	}
}
