//go:build unix

package workdir

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// guardSignal keeps sig deliverable as a channel signal for the duration
// of the test, so the process survives signals whose re-raise is faked.
func guardSignal(t *testing.T, sig os.Signal) chan os.Signal {
	t.Helper()
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, sig)
	t.Cleanup(func() { signal.Stop(guard) })
	return guard
}

func TestNotifyCleanup_cleansUpAndReraises(t *testing.T) {
	guardSignal(t, syscall.SIGHUP)

	m := newTestManager(t)
	dir, err := m.Acquire()
	require.NoError(t, err)

	cleaned := make(chan struct{})
	raised := make(chan os.Signal, 1)
	disarm := notifyCleanup(func() {
		_ = m.Release(dir)
		close(cleaned)
	}, func(sig os.Signal) {
		raised <- sig
	})
	defer disarm()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-cleaned:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup was not invoked")
	}
	assert.Equal(t, os.Signal(syscall.SIGHUP), <-raised)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// disarm is idempotent, even after the handler already fired
	disarm()
	disarm()
}

func TestNotifyCleanup_disarmedHookStaysQuiet(t *testing.T) {
	guard := guardSignal(t, syscall.SIGHUP)

	invoked := make(chan struct{}, 1)
	disarm := notifyCleanup(func() {
		invoked <- struct{}{}
	}, func(os.Signal) {})
	disarm()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	// the guard sees the signal, the disarmed hook must not
	select {
	case <-guard:
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not delivered")
	}
	select {
	case <-invoked:
		t.Fatal("cleanup ran after disarm")
	case <-time.After(100 * time.Millisecond):
	}
}
